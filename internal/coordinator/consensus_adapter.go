package coordinator

import (
	"context"
	"sync"

	"github.com/aegisflow/aegis/internal/consensus"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// EngineAdapter satisfies ConsensusDriver on top of a *consensus.Engine
// that only exposes fire-and-forget Propose/HandlePrePrepare/... plus
// a one-shot SetOnDecided callback. It bridges that callback-driven API
// to the blocking Decide the Coordinator's procedural flow wants, by
// registering a single shared callback at construction time and
// fanning each decided Round out to whichever digest is waiting on it.
type EngineAdapter struct {
	engine *consensus.Engine

	mu      sync.Mutex
	waiters map[string]chan *consensus.Round
}

// NewEngineAdapter wires itself as engine's OnDecided callback. engine
// must not already have one set, or NewEngineAdapter's registration
// replaces it.
func NewEngineAdapter(engine *consensus.Engine) *EngineAdapter {
	a := &EngineAdapter{
		engine:  engine,
		waiters: make(map[string]chan *consensus.Round),
	}
	engine.SetOnDecided(a.onDecided)
	return a
}

func (a *EngineAdapter) onDecided(round *consensus.Round) {
	a.mu.Lock()
	ch, ok := a.waiters[round.Digest]
	if ok {
		delete(a.waiters, round.Digest)
	}
	a.mu.Unlock()
	if ok {
		ch <- round
	}
}

// Decide proposes the given Proposal (if this node is the view's
// primary) and blocks until a Round matching its digest is decided or
// ctx expires.
func (a *EngineAdapter) Decide(ctx context.Context, proposal consensus.Proposal) (*consensus.Round, error) {
	digest, err := consensus.Digest(&proposal)
	if err != nil {
		return nil, aerrors.Wrap(err, "coordinator.EngineAdapter.Decide", aerrors.KindInternal, "digest computation failed")
	}

	ch := make(chan *consensus.Round, 1)
	a.mu.Lock()
	a.waiters[digest] = ch
	a.mu.Unlock()

	if _, err := a.engine.Propose(&proposal); err != nil {
		a.mu.Lock()
		delete(a.waiters, digest)
		a.mu.Unlock()
		return nil, aerrors.Wrap(err, "coordinator.EngineAdapter.Decide", aerrors.KindOf(err), "propose failed")
	}

	select {
	case round := <-ch:
		return round, nil
	case <-ctx.Done():
		a.mu.Lock()
		delete(a.waiters, digest)
		a.mu.Unlock()
		return nil, aerrors.Wrap(ctx.Err(), "coordinator.EngineAdapter.Decide", aerrors.KindConsensusTimeout, "consensus round did not decide before deadline")
	}
}
