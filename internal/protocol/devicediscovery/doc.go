// Package devicediscovery asks the relay which devices an identity has.
//
// The remote protocol only queries the server and reports the result. The
// contact protocol wraps it as a child and applies the result to the
// contact book, adding new devices and forgetting obsolete ones.
package devicediscovery
