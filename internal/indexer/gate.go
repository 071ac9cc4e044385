package indexer

import (
	"context"
	"sync"
)

// pauseGate lets workers be suspended and resumed cooperatively. The gate is
// open by default; Pause closes it and Resume reopens it. Waiters also wake
// on context cancellation so a paused run can still be cancelled.
type pauseGate struct {
	mu     sync.Mutex
	open   chan struct{} // closed channel means the gate is open
	paused bool
}

func newPauseGate() *pauseGate {
	open := make(chan struct{})
	close(open)
	return &pauseGate{open: open}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.open = make(chan struct{})
	}
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.open)
	}
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while the gate is paused.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
