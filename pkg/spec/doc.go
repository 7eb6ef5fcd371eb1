// Package spec holds declarative protocol specifications and the registry
// that resolves a protocol name to its specification.
//
// A ProtocolSpec describes a protocol's transport kind, default port,
// discovery method and timing/retry parameters. Specs are pure data: adding
// a protocol is a data insertion, never a code change in the executor.
// The registry is immutable between reloads; a reload replaces the whole
// table atomically, so concurrent readers never observe a partial update.
package spec
