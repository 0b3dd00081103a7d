// Package messaging ties one device's channel manager, protocol engine
// and relay client together.
//
// Inbound envelopes are decrypted by the channel layer and classified:
// application payloads go back to the caller, protocol messages are run
// through the engine. In the other direction the Service is the engine's
// Dispatcher: protocol posts are encrypted and handed to the relay,
// server queries are answered by the relay and fed back to the waiting
// instance, and events go to an EventSink. It is also the channel
// manager's RatchetStarter, so policy decisions start the full ratchet
// protocol.
//
// Relay calls are retried with retry.Backoff. Drops and decrypt failures
// are logged and acknowledged; they never stall a poll.
package messaging
