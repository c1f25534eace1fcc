// Package consumer runs the JetStream pull loop that feeds the orchestrator.
//
// The loop is the stream-side half of the backpressure scheme: the batch size
// and enabled flag written by the mapping controller decide how many messages
// the next pull asks for, or whether it pulls at all. Deliveries are settled as
// a unit, so a handler error naks every message of the pull and the identical
// set comes back.
package consumer
