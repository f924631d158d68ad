package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegisflow/aegis/internal/agent"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// ReplicaCaller invokes one already-selected replica's agent runtime.
// Implemented by whatever wires a live agent.Runtime per replica (an
// in-process registry for the single-binary demo, or a bus round-trip
// for a real multi-process deployment) — kept narrow so Dispatcher
// never needs to know which.
type ReplicaCaller interface {
	Call(ctx context.Context, replica agent.Replica, incident agent.Incident) (*agent.Recommendation, error)
}

// Dispatcher implements coordinator.AgentDispatcher: select a replica
// for an agent type via the configured strategy, call it, and on
// failure walk the rest of FallbackChain's ordering before giving up.
type Dispatcher struct {
	pool     *Pool
	caller   ReplicaCaller
	strategy StrategyName
	region   string

	mu      sync.Mutex
	success map[string]*successCounter
}

type successCounter struct {
	successes int
	total     int
}

// NewDispatcher builds a Dispatcher selecting replicas via strategy,
// preferring preferredRegion for RegionAffinity.
func NewDispatcher(pool *Pool, caller ReplicaCaller, strategy StrategyName, preferredRegion string) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		caller:   caller,
		strategy: strategy,
		region:   preferredRegion,
		success:  make(map[string]*successCounter),
	}
}

// Dispatch satisfies coordinator.AgentDispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, agentType string, incident agent.Incident) (*agent.Recommendation, error) {
	all := Healthy(d.pool.Snapshot(agentType))
	if len(all) == 0 {
		return nil, aerrors.New("routing.Dispatch", aerrors.KindAllFallbacksExhausted, fmt.Sprintf("no healthy replicas for agent type %s", agentType))
	}

	chain := FallbackChain(all)

	preferred := Select(d.strategy, agentType, all, d.region, incident.Severity)
	chain = prioritize(chain, preferred)

	var lastErr error
	for _, replica := range chain {
		rec, err := d.caller.Call(ctx, replica, incident)
		if err == nil {
			d.recordOutcome(rec.ActionType, incident.Severity, true)
			return rec, nil
		}
		lastErr = err
		if aerrors.KindOf(err) != aerrors.KindAgentTimeout && aerrors.KindOf(err) != aerrors.KindCircuitOpen {
			// A non-transient error (validation, internal) from this
			// replica won't be fixed by trying the next one with the
			// same incident.
			break
		}
	}

	return nil, aerrors.Wrap(lastErr, "routing.Dispatch", aerrors.KindAllFallbacksExhausted, fmt.Sprintf("exhausted fallback chain for agent type %s", agentType))
}

// prioritize moves preferred to the front of chain if present, so the
// strategy's choice is tried first but the rest of the fallback chain
// still backs it up.
func prioritize(chain []agent.Replica, preferred *agent.Replica) []agent.Replica {
	if preferred == nil {
		return chain
	}
	out := make([]agent.Replica, 0, len(chain))
	out = append(out, *preferred)
	for _, r := range chain {
		if r.ReplicaID != preferred.ReplicaID {
			out = append(out, r)
		}
	}
	return out
}

func (d *Dispatcher) recordOutcome(actionType string, severity agent.Severity, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(severity) + ":" + actionType
	c, ok := d.success[key]
	if !ok {
		c = &successCounter{}
		d.success[key] = c
	}
	c.total++
	if success {
		c.successes++
	}
}

// RecordOutcome lets the Coordinator report whether the decided
// action ultimately succeeded, feeding DefaultScorer's
// historical_success term via SuccessRate.
func (d *Dispatcher) RecordOutcome(actionType string, severity agent.Severity, success bool) {
	d.recordOutcome(actionType, severity, success)
}

// SuccessRate satisfies coordinator.HistoricalSuccessLookup.
func (d *Dispatcher) SuccessRate(actionType string, severity agent.Severity) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.success[string(severity)+":"+actionType]
	if !ok || c.total == 0 {
		return 0, false
	}
	return float64(c.successes) / float64(c.total), true
}
