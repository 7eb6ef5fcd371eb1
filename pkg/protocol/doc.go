// Package protocol defines the protocol capability layer of the FieldGate
// engine.
//
// A Capability knows how to encode a read or write request and decode a
// response for one protocol, given a device descriptor. Capabilities are
// registered by name; the session executor selects one by the protocol
// name in the device descriptor and never carries protocol knowledge
// itself. Adding a protocol means implementing the Capability interface
// and registering it, never editing the executor.
//
// The built-in capabilities cover the abstract read/write contract for
// REST (HTTP/JSON), Modbus TCP (register access) and BACnet/IP (object
// property access). None of them is a complete protocol stack.
package protocol
