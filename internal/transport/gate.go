package transport

import (
	"context"
	"sync"

	"github.com/kstaniek/go-can-comms/internal/metrics"
)

// Gate pauses a host transport's receive path while the send queue is too
// full and lets it continue once the backpressure refresh resumes it.
type Gate struct {
	name    string
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewGate returns an open gate labelled name.
func NewGate(name string) *Gate { return &Gate{name: name} }

// Name returns the transport label.
func (g *Gate) Name() string { return g.name }

// Pause closes the gate. Pausing a paused gate is a no-op.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resumed = make(chan struct{})
	metrics.IncFlowPause(g.name)
}

// Resume opens the gate. Resuming an open gate is a no-op.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resumed)
	metrics.IncFlowResume(g.name)
}

// Paused reports the current state.
func (g *Gate) Paused() bool { g.mu.Lock(); defer g.mu.Unlock(); return g.paused }

// Wait blocks while the gate is paused.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resumed
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
