package utils

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// FetchGate is the single-permit mutual-exclusion gate EventsEmitter
// and AutoEventsEmitter share, so a fetch cycle and its paired
// confirmation pass never touch the confirmation buffer concurrently
// (spec §4.4, §5). Unlike a plain sync.Mutex, Acquire takes a context
// so a caller can give up waiting on shutdown.
type FetchGate struct {
	sem *semaphore.Weighted
}

// NewFetchGate returns a gate with a single permit.
func NewFetchGate() *FetchGate {
	return &FetchGate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the permit is available or ctx is done.
func (g *FetchGate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns the permit.
func (g *FetchGate) Release() {
	g.sem.Release(1)
}
