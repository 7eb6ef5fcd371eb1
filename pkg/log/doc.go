// Package log provides structured event logging for the FieldGate engine.
//
// Events are captured at three layers: the transport layer (raw frames and
// datagrams), the session layer (attempts, retries, state changes) and the
// context layer (fingerprint cache activity). Applications receive events
// through the Logger interface; adapters are provided for slog console
// output, CBOR file capture and multi-logger fan-out.
package log
