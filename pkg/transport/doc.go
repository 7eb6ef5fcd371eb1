// Package transport implements the byte-moving layer of the FieldGate
// engine.
//
// A Transport knows how to open, exchange on, and close connections for one
// transport kind: request/response over a TCP stream, UDP datagrams
// (unicast or broadcast), or connection-oriented length-prefixed frames.
// Transports carry no protocol semantics; message boundaries on raw streams
// are delimited by a CompleteFunc supplied by the protocol capability.
package transport
