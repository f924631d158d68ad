package coordinator

import (
	"context"
	"sync"
	"sync/atomic"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// Backpressure bounds how many incidents the Coordinator processes
// concurrently: a fixed-size token pool with a FIFO wait queue (the
// buffered channel's natural order) and a max wait before a caller
// gives up with KindOverload, rather than growing goroutines without
// bound under a incident storm.
type Backpressure struct {
	tokens  chan struct{}
	waiting int64
}

// NewBackpressure creates a Backpressure admitting at most maxInFlight
// concurrent incidents.
func NewBackpressure(maxInFlight int) *Backpressure {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	b := &Backpressure{tokens: make(chan struct{}, maxInFlight)}
	for i := 0; i < maxInFlight; i++ {
		b.tokens <- struct{}{}
	}
	return b
}

// Acquire blocks for a token until one is free or ctx is done. On
// success it returns a release func the caller must invoke exactly
// once. On timeout/cancellation it returns KindOverload.
func (b *Backpressure) Acquire(ctx context.Context) (func(), error) {
	atomic.AddInt64(&b.waiting, 1)
	defer atomic.AddInt64(&b.waiting, -1)

	select {
	case <-b.tokens:
		var once sync.Once
		return func() {
			once.Do(func() { b.tokens <- struct{}{} })
		}, nil
	case <-ctx.Done():
		return nil, aerrors.Wrap(ctx.Err(), "coordinator.Backpressure.Acquire", aerrors.KindOverload, "incident queue wait timed out")
	}
}

// Waiting reports how many callers are currently blocked waiting for
// a token, for metrics (§ queue depth).
func (b *Backpressure) Waiting() int { return int(atomic.LoadInt64(&b.waiting)) }

// InFlight reports how many tokens are currently checked out.
func (b *Backpressure) InFlight() int { return cap(b.tokens) - len(b.tokens) }
