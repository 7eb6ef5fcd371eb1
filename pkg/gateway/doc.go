// Package gateway is the orchestration layer of the FieldGate engine.
//
// A Gateway owns the device registry and turns caller intents into
// session executions. Around the read/write path it maintains device
// context: on first contact with a device it fingerprints it and
// consults the context cache in the background, so context population
// never blocks or fails an operation.
package gateway
