// Package metric exposes Prometheus collectors for the FieldGate engine.
//
// All Metrics methods are nil-safe so instrumented packages never need to
// guard against a disabled metrics pipeline.
package metric
