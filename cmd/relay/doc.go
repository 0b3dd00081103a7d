// Command relay runs the trustline relay: per-device mailboxes of
// encrypted envelopes, published devices and signed pre-keys, encrypted
// group photos and the revocation list.
//
// Settings come from <home>/trustline.toml ([relay] section), an optional
// .env file and TRUSTLINE_* variables. Without redis_addr all state lives
// in memory and is lost on exit. The HTTP API is described in package
// relay; Prometheus metrics are served at /metrics unless disabled.
package main
