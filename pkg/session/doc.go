// Package session implements the dynamic session executor.
//
// An Executor drives one read or write operation end to end: it resolves
// the protocol spec and capability, serializes access per device endpoint,
// opens the transport, exchanges the encoded request, and applies the
// spec's retry and backoff policy to transient failures. The executor
// carries no protocol knowledge; encoding, decoding and error
// classification live in the protocol capabilities.
//
// Each invocation is an independent unit of work. It blocks only on
// network I/O, its own endpoint lock and backoff delays, and it never
// blocks on another endpoint's lock.
package session
