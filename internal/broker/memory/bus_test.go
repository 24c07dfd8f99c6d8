package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devmatch/messaging/internal/broker"
)

type recorder struct {
	mu   sync.Mutex
	envs []broker.Envelope
}

func (r *recorder) handle(env broker.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func waitRunning(t *testing.T, endpoints ...*Endpoint) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for _, e := range endpoints {
		for {
			e.mu.RLock()
			ready := e.handler != nil
			e.mu.RUnlock()
			if ready {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("endpoint handler never registered")
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestBusSkipsOwnOrigin(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")

	var recA, recB recorder
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, recA.handle)
	go b.Run(ctx, recB.handle)
	waitRunning(t, a, b)

	a.Publish(ctx, broker.Envelope{Room: "c1", Event: []byte(`{"type":"message:new"}`)})

	if recB.count() != 1 {
		t.Fatalf("expected 1 envelope on endpoint b, got %d", recB.count())
	}
	if recA.count() != 0 {
		t.Errorf("endpoint a received its own envelope %d times", recA.count())
	}

	recB.mu.Lock()
	got := recB.envs[0]
	recB.mu.Unlock()
	if got.Origin != "a" {
		t.Errorf("expected origin 'a', got %q", got.Origin)
	}
	if got.Room != "c1" {
		t.Errorf("expected room 'c1', got %q", got.Room)
	}
}

func TestBusDispatchesToAllOtherEndpoints(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")
	c := bus.Endpoint("c")

	var recB, recC recorder
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, recB.handle)
	go c.Run(ctx, recC.handle)
	waitRunning(t, b, c)

	a.Publish(ctx, broker.Envelope{Room: "c1"})

	if recB.count() != 1 || recC.count() != 1 {
		t.Fatalf("expected both endpoints to receive once, got b=%d c=%d", recB.count(), recC.count())
	}
}

func TestEndpointStopsAfterCancel(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")

	var rec recorder
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, rec.handle)
		close(done)
	}()
	waitRunning(t, b)

	cancel()
	<-done

	a.Publish(context.Background(), broker.Envelope{Room: "c1"})
	if rec.count() != 0 {
		t.Errorf("expected no delivery after cancel, got %d", rec.count())
	}
}
