package coordinator

import (
	"context"
	"time"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/consensus"
	"github.com/aegisflow/aegis/internal/eventstore"
)

// EventAppender is the narrow slice of internal/eventstore.Store the
// Coordinator needs: append one event at the expected version. Kept
// as an interface (rather than depending on *eventstore.Store
// directly) so tests can substitute an in-memory fake without a
// Postgres pool.
type EventAppender interface {
	Append(ctx context.Context, incidentID, eventType string, payload map[string]any, expectedVersion uint64) (*eventstore.Event, error)
}

// AgentDispatcher sends one Incident to one agent type and returns its
// Recommendation (or the KindAgentTimeout/KindAllFallbacksExhausted
// error that resulted from exhausting that type's fallback chain).
// Implemented by internal/routing, which owns replica selection,
// retries across the fallback chain, and the call into the selected
// replica's agent.Runtime.
type AgentDispatcher interface {
	Dispatch(ctx context.Context, agentType string, incident agent.Incident) (*agent.Recommendation, error)
}

// ConsensusDriver proposes one action for agreement and blocks until
// the round reaches DECIDED or ABORTED, or ctx is done. It hides
// whether the underlying consensus.Engine is local (single-process
// demo) or fronts a real multi-replica PBFT deployment.
type ConsensusDriver interface {
	Decide(ctx context.Context, proposal consensus.Proposal) (*consensus.Round, error)
}

// ActionExecutor carries out the decided action against the target
// system, returning a human-readable outcome summary.
type ActionExecutor interface {
	Execute(ctx context.Context, action agent.Recommendation, lease *Lease) (string, error)
}

// Escalator notifies a human operator when the Coordinator cannot make
// safe automated progress (no quorum, consensus ABORTED, a required
// agent type exhausted every fallback).
type Escalator interface {
	Escalate(ctx context.Context, incidentID, reason string) error
}

// clock abstracts time.Now so tests can control deadlines without
// sleeping for real durations.
type clock func() time.Time

func systemClock() time.Time { return time.Now() }
