// Package app wires one device for the CLI.
//
// Open builds the concrete stores, the relay client, the channel manager,
// the protocol engine and the services from a config.Config and the
// account passphrase, and exposes them on App for commands to use.
package app
