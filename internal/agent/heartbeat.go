package agent

import (
	"context"
	"sync"
	"time"

	"github.com/aegisflow/aegis/pkg/logger"
)

// ReplicaSink persists Replica health transitions — a Postgres-backed
// implementation in production, an in-memory fake in tests.
type ReplicaSink interface {
	Upsert(ctx context.Context, r *Replica) error
	List(ctx context.Context) ([]Replica, error)
}

// ReplacementNotifier is told when a Replica goes dead so the
// Coordinator/Scaling component can spin up a substitute.
type ReplacementNotifier interface {
	ReplicaDead(r Replica)
}

// Patrol is a ticker-driven health monitor for AgentReplicas: missing
// heartbeats move a replica from healthy to degraded to dead, mirroring
// the teacher's internal/monitor/patrol.go RunOnce/Start shape, retargeted
// from coding-agent output fingerprinting to heartbeat-age classification.
type Patrol struct {
	sink     ReplicaSink
	notifier ReplacementNotifier
	interval time.Duration

	degradedAfter time.Duration // missed heartbeats * interval
	deadAfter     time.Duration

	mu        sync.Mutex
	lastAlive map[string]bool // replicaID -> was alive as of the previous RunOnce
}

// NewPatrol builds a Patrol. degradedAfterMissed/deadAfterMissed are
// heartbeat-interval multiples, matching AgentDegradedAfterMissed/
// AgentDeadAfterMissed in internal/config.
func NewPatrol(sink ReplicaSink, notifier ReplacementNotifier, interval time.Duration, degradedAfterMissed, deadAfterMissed int) *Patrol {
	return &Patrol{
		sink:          sink,
		notifier:      notifier,
		interval:      interval,
		degradedAfter: time.Duration(degradedAfterMissed) * interval,
		deadAfter:     time.Duration(deadAfterMissed) * interval,
		lastAlive:     make(map[string]bool),
	}
}

// ClassifyHealth maps a replica's heartbeat age to its health status,
// preserving draining/isolated statuses set by other subsystems (the
// Coordinator drains replicas deliberately; Consensus isolates Byzantine
// ones — a patrol cycle must not override either).
func ClassifyHealth(current ReplicaStatus, age, degradedAfter, deadAfter time.Duration) ReplicaStatus {
	if current == ReplicaDraining || current == ReplicaIsolated {
		return current
	}
	switch {
	case age >= deadAfter:
		return ReplicaDead
	case age >= degradedAfter:
		return ReplicaDegraded
	default:
		return ReplicaHealthy
	}
}

// RunOnce classifies every tracked replica's health against now and
// persists transitions, notifying the replacement path for newly-dead
// replicas.
func (p *Patrol) RunOnce(ctx context.Context, now time.Time) error {
	replicas, err := p.sink.List(ctx)
	if err != nil {
		logger.Errorw("patrol: list replicas failed", logger.FieldError, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range replicas {
		r := &replicas[i]
		age := now.Sub(r.LastHeartbeat)
		next := ClassifyHealth(r.Status, age, p.degradedAfter, p.deadAfter)

		wasDead := r.Status == ReplicaDead
		r.Status = next
		if err := p.sink.Upsert(ctx, r); err != nil {
			logger.Debugw("patrol: upsert failed", logger.FieldReplicaID, r.ReplicaID, logger.FieldError, err)
			continue
		}
		if next == ReplicaDead && !wasDead && p.notifier != nil {
			p.notifier.ReplicaDead(*r)
		}
	}
	return nil
}

// Start runs RunOnce on a ticker until ctx is cancelled.
func (p *Patrol) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				_ = p.RunOnce(ctx, now)
			}
		}
	}()
	logger.Infow("agent patrol started", "interval", p.interval.String())
}
