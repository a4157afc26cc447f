package engine

import (
	"sync"

	"github.com/tanq16/splitfetch/internal/bridge"
)

// TransferCounter tracks the outstanding tasks of a batch. onDone runs exactly
// once, on the terminal event that brings the count to zero.
type TransferCounter struct {
	mu        sync.Mutex
	remaining int
	fired     bool
	onDone    func()
}

func NewTransferCounter(n int, onDone func()) *TransferCounter {
	c := &TransferCounter{remaining: n, onDone: onDone}
	if n <= 0 {
		c.fire()
	}
	return c
}

// Done records one terminal event and reports whether it finished the batch.
func (c *TransferCounter) Done() bool {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return false
	}
	c.remaining--
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	return c.fire()
}

func (c *TransferCounter) fire() bool {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return false
	}
	c.fired = true
	c.remaining = 0
	c.mu.Unlock()
	if c.onDone != nil {
		c.onDone()
	}
	return true
}

func (c *TransferCounter) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *TransferCounter) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Aggregate folds per-URL progress into one batch-wide snapshot. Total is -1
// while any file has an unknown size.
type Aggregate struct {
	mu    sync.Mutex
	files map[string]bridge.Progress
}

func NewAggregate() *Aggregate {
	return &Aggregate{files: make(map[string]bridge.Progress)}
}

func (a *Aggregate) Update(p bridge.Progress) bridge.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[p.URL] = p
	snap := a.snapshot()
	snap.Chunk = p.Chunk
	return snap
}

func (a *Aggregate) Snapshot() bridge.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *Aggregate) snapshot() bridge.Progress {
	var snap bridge.Progress
	for _, p := range a.files {
		snap.Transferred += p.Transferred
		if p.Total < 0 || snap.Total < 0 {
			snap.Total = -1
			continue
		}
		snap.Total += p.Total
	}
	return snap
}
