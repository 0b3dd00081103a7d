// Package commands defines the trustline CLI.
//
// Commands
//
//   - init           Create the local identity
//   - fingerprint    Print the identity fingerprint
//   - publish        Register this device and publish its pre-key
//   - poll           Fetch and process the mailbox
//   - send           Send an application message to a contact
//   - contacts       List contacts
//   - channels       List ratcheting channels
//   - discover       Refresh the devices of a contact
//   - ratchet        Start a full ratchet with a contact device
//   - trust          Invite, accept and check the SAS of a new contact
//   - keycloak       Add a contact vouched for by the identity provider
//   - photo          Download a group photo
//   - backup         Generate, verify or revoke the backup key
//
// The root command loads the configuration before any subcommand runs.
// Commands that need the device open it with the passphrase, deliver any
// outbox left by an earlier run and print protocol events as they happen.
package commands
