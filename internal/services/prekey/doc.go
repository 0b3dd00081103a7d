// Package prekey manages the signed pre-keys of this device.
//
// A signed pre-key lets peers reach the device before any ratcheting
// channel exists. The private half stays in the local PreKeyStore; the
// public half, signed by the identity, is published on the relay along
// with the device registration.
package prekey
