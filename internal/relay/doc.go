// Package relay is the store-and-forward server between devices and the
// clients that reach it.
//
// The relay never sees plaintext. It keeps one mailbox of envelopes per
// device, the devices and signed pre-keys each identity has published,
// encrypted group photos keyed by label, and the set of revoked
// identities. A Service holds that logic over a Backend (in memory or
// Redis); NewHandler exposes it over HTTP and HTTPClient talks to it.
// LocalClient calls a Service directly for tests and single-process runs.
//
// HTTP API
//
//	POST /v1/envelopes                               {"envelopes": [...]}
//	GET  /v1/envelopes/{identity}/{device}?limit=N   {"envelopes": [...]}
//	POST /v1/envelopes/{identity}/{device}/ack       {"ids": [...]}
//	PUT  /v1/devices/{identity}                      {"device": "..."}
//	GET  /v1/devices/{identity}                      {"devices": [...]}
//	PUT  /v1/prekeys/{identity}/{device}             SignedPreKey
//	GET  /v1/prekeys/{identity}                      {"prekeys": [...]}
//	PUT  /v1/photos/{label}                          raw bytes
//	GET  /v1/photos/{label}                          raw bytes or 404
//	POST /v1/revocation/check                        {"identity": "..."}
//	PUT  /v1/revocation/{identity}
//	GET  /metrics
//
// Identities and devices are hex in paths and JSON. An envelope posted
// with a zero device is copied to every registered device of its
// identity. The server assigns envelope ids and timestamps.
package relay
