package engine

import (
	"context"
	"sync"
)

// Gate blocks workers between batches while a session is paused.
type Gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

// NewGate returns an open gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{ch: ch, open: true}
}

// Close makes later Wait calls block. Closing a closed gate does nothing.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.ch = make(chan struct{})
		g.open = false
	}
}

// Open releases every waiter.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		close(g.ch)
		g.open = true
	}
}

func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
