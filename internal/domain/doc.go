// Package domain re-exports the value types and collaborator interfaces
// shared by the channel layer, the protocols and the services: identities
// and UIDs, contacts and their trust origins, envelopes, events, and the
// store and relay contracts.
package domain
