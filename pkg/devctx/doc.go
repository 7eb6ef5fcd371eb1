// Package devctx implements device fingerprinting and the context cache.
//
// A device fingerprint is computed from stable observable features
// (protocol, ports, vendor strings, bucketed response timing) and keys a
// cached ContextRecord: profile, parameter and error-code tables,
// troubleshooting notes and maintenance schedule resolved by an external
// similarity-search service. The cache degrades gracefully: fresh hits
// never touch the network, resolver failures fall back to the last known
// record marked stale, and the whole cache snapshots to disk so a device
// seen once stays usable offline.
package devctx
