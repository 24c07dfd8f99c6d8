// Package memory is the single-process fan-out bridge: a shared in-process
// bus with one endpoint per would-be instance. In production it backs
// deployments without Redis; in tests it lets two hubs talk without a broker
// process.
package memory

import (
	"context"
	"sync"

	"github.com/devmatch/messaging/internal/broker"
)

// Bus is the shared medium. Endpoints publish to it and receive everything
// published by the other endpoints.
type Bus struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
}

func NewBus() *Bus {
	return &Bus{}
}

// Endpoint returns a broker.Broker bound to the given origin.
func (b *Bus) Endpoint(origin string) *Endpoint {
	e := &Endpoint{bus: b, origin: origin}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mu.Unlock()
	return e
}

func (b *Bus) dispatch(env broker.Envelope) {
	b.mu.RLock()
	targets := make([]*Endpoint, len(b.endpoints))
	copy(targets, b.endpoints)
	b.mu.RUnlock()

	for _, e := range targets {
		e.deliver(env)
	}
}

type Endpoint struct {
	bus    *Bus
	origin string

	mu      sync.RWMutex
	handler broker.Handler
}

func (e *Endpoint) Publish(ctx context.Context, env broker.Envelope) error {
	env.Origin = e.origin
	e.bus.dispatch(env)
	return nil
}

func (e *Endpoint) Run(ctx context.Context, h broker.Handler) error {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	<-ctx.Done()
	e.mu.Lock()
	e.handler = nil
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) Close() error { return nil }

func (e *Endpoint) deliver(env broker.Envelope) {
	if env.Origin == e.origin {
		return
	}
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h(env)
	}
}
