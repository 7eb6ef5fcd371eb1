// Package device defines device descriptors and the registry that owns
// them.
//
// A Descriptor carries the addressing a protocol capability needs to reach
// one managed device: network address and port plus per-parameter
// protocol-specific addressing (an endpoint path, an object type and
// instance, or a register map entry). Descriptors are immutable snapshots;
// the registry replaces a descriptor wholesale when its address changes.
package device
