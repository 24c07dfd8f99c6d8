// Package broker bridges realtime room events between gateway instances.
// Each instance publishes the events it originates; every other instance
// re-emits them to its locally-connected subscribers. Delivery is
// at-most-once per currently-connected subscriber: there is no durable
// per-connection queue, missed events are recovered over the REST history
// endpoints.
package broker

import "context"

// Envelope is one room event in transit between instances.
type Envelope struct {
	// Origin is the publishing instance id. Subscribers drop envelopes
	// carrying their own origin, so an instance never re-delivers what it
	// already emitted locally.
	Origin string `json:"origin"`
	Room   string `json:"room"`
	// ExcludeUser, when set, must not receive the event (typing excludes the
	// sender on every instance).
	ExcludeUser string `json:"exclude_user,omitempty"`
	// Event is the serialized outgoing event, re-emitted verbatim.
	Event []byte `json:"event"`
}

// Handler is invoked for every envelope published by another instance.
type Handler func(env Envelope)

type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Run blocks delivering remote envelopes to h until ctx is cancelled.
	Run(ctx context.Context, h Handler) error
	Close() error
}
