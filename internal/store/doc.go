// Package store provides on-disk persistence for a device.
//
// AccountFileStore keeps the owned identity in a single passphrase-sealed
// JSON file (scrypt + ChaCha20-Poly1305). DB is a bbolt database holding
// everything else:
//   - protocol instances, their outbox and child links (engine.Repository)
//   - ratcheting channels and an index of their receive key ids
//   - contacts and the other devices of the owned identity
//   - signed pre-keys, private halves included
//   - the backup key's public material and downloaded group photos
//
// Database values are sealed with XChaCha20-Poly1305 under a key derived
// from the passphrase when the database is opened.
package store
