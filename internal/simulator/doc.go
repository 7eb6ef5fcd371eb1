// Package simulator provides in-process device simulators for the REST,
// Modbus TCP and BACnet/IP capabilities. Tests use them as real network
// peers: each simulator binds a loopback port and speaks just enough of
// its protocol to exercise the engine, including scripted busy responses
// for retry tests.
package simulator
