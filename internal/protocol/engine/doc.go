// Package engine runs protocol state machines.
//
// A protocol is a Definition: a set of states and the steps that move an
// instance from one state to the next on receipt of a message. The engine
// owns everything around a step. It serializes work per instance, loads
// and decodes the current state, checks that the message arrived on a
// channel the step accepts, runs the step and commits the new state
// together with everything the step wants to send. Sending happens only
// after the commit, from a persistent outbox, so a crash between the two
// replays the sends instead of losing them.
//
// Protocols start sub-protocols with StepContext.StartChild. When the
// child reaches the state the parent is waiting for, the engine delivers a
// ChildOutcome to the parent as an ordinary local message.
package engine
