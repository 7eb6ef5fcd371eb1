// Package discovery finds devices on the local network and produces the
// observable features that feed device fingerprinting.
//
// Three probes are provided: an mDNS browser for devices that advertise
// themselves (REST devices advertise _fieldgate._tcp), a BACnet Who-Is
// style UDP broadcast probe, and a plain TCP connect probe for protocols
// with a well-known port such as Modbus TCP.
package discovery
