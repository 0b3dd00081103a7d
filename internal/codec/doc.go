// Package codec implements the self-describing binary encoding shared by
// every layer of trustline.
//
// Each unit is a one byte tag, a four byte big-endian inner length and the
// inner payload. Lists concatenate their encoded elements; dictionaries
// concatenate (bytes key, value) pairs in sorted key order. Decoding never
// panics: malformed input yields an error.
package codec
