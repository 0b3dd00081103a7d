// Package channel encrypts and decrypts envelopes between devices.
//
// Four channel kinds exist. A ratcheting channel is a long-lived pair of
// seeds between two devices; every message is encrypted under a fresh key
// obtained by ratcheting the send seed, and the receiver keeps a window of
// provisioned keys ahead of the sender. Pre-key and asymmetric channels
// are one-shot fallbacks keyed by the recipient's signed pre-key or
// identity encryption key. The local channel never leaves the device and
// is handled by the caller.
//
// The message body is encrypted once under a random message key; each
// recipient device gets its own wrapped copy of that key. The first byte
// of a wrapped key names the channel kind that wrapped it.
//
// A Policy decides when the send direction of a ratcheting channel needs
// a fresh key exchange (a full ratchet) or a restart of one in progress.
// The Manager reports such decisions to a RatchetStarter.
package channel
