// Package crypto implements the cryptographic primitives of trustline on
// top of the Edwards curves in package edwards.
//
// Contents
//
//   - Deterministic HMAC-DRBG and system-entropy generators (NewPRNG,
//     SystemPRNG) and seed-based key derivation (DeriveKey, SeedFromKeys)
//   - AES-256-CTR then HMAC-SHA-256 authenticated encryption (Encrypt,
//     Decrypt)
//   - Diffie-Hellman shared seeds (GenerateDHKeyPair, SharedSeed)
//   - ECIES style KEM/DEM hybrid encryption (Encapsulate, Decapsulate,
//     Seal, Open)
//   - EC-SDSA signatures (Sign, Verify)
//   - Commitments and short authentication strings (Commit, SAS)
//   - Algorithm-aware key encoding (PublicKey.Encode, DecodePublicKey)
//
// # Notes
//
// Every asymmetric key carries a class byte and a curve byte. Decoding
// checks both before reading any curve field and rejects unknown values.
// Verification failures return errors and never partially decrypted data.
// The Suite value replaces any process-wide configuration: tests build a
// DeterministicSuite, production code uses DefaultSuite.
package crypto
