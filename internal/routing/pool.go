// Package routing maintains the pool of AgentReplicas per agent type
// and region, selects which replica answers a given dispatch per
// spec.md §4.6, and evaluates autoscaling policy. Grounded on the
// teacher's internal/orchestrator package for the idiom of keeping
// pure decision logic (strategy.go, autoscale.go — see
// master_logic.go) separate from the stateful, lock-guarded Pool
// that owns the actual replica set.
package routing

import (
	"context"
	"sort"
	"sync"

	"github.com/aegisflow/aegis/internal/agent"
)

// ReplicaLister supplies the Pool's initial contents on startup —
// satisfied by *agent.Store.List, the same persistence Patrol writes
// replica health updates to.
type ReplicaLister interface {
	List(ctx context.Context) ([]agent.Replica, error)
}

// Pool is the in-memory replica registry: copy-on-write reads for
// selection, mutation under a short lock, per spec.md §5's
// shared-resource policy.
type Pool struct {
	mu       sync.RWMutex
	replicas map[string][]agent.Replica // keyed by agent type
	cache    *Cache                     // optional redis mirror; nil is a valid no-op
}

// NewPool builds an empty Pool. cache may be nil to run without Redis.
func NewPool(cache *Cache) *Pool {
	return &Pool{
		replicas: make(map[string][]agent.Replica),
		cache:    cache,
	}
}

// Upsert adds or updates one replica's record.
func (p *Pool) Upsert(r agent.Replica) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.replicas[r.AgentType]
	for i, existing := range list {
		if existing.ReplicaID == r.ReplicaID {
			list[i] = r
			p.replicas[r.AgentType] = list
			p.invalidate(r.AgentType)
			return
		}
	}
	p.replicas[r.AgentType] = append(list, r)
	p.invalidate(r.AgentType)
}

// Remove deletes a replica by id from its agent type's list.
func (p *Pool) Remove(agentType, replicaID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.replicas[agentType]
	out := list[:0]
	for _, r := range list {
		if r.ReplicaID != replicaID {
			out = append(out, r)
		}
	}
	p.replicas[agentType] = out
	p.invalidate(agentType)
}

// Snapshot returns a copy of every replica for one agent type — safe
// for the caller to read/sort without holding the Pool's lock.
func (p *Pool) Snapshot(agentType string) []agent.Replica {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.replicas[agentType]
	out := make([]agent.Replica, len(list))
	copy(out, list)
	return out
}

// Healthy filters a replica list down to those eligible for dispatch
// (healthy or degraded — draining/dead/isolated never receive new
// work).
func Healthy(replicas []agent.Replica) []agent.Replica {
	out := make([]agent.Replica, 0, len(replicas))
	for _, r := range replicas {
		if r.Status == agent.ReplicaHealthy || r.Status == agent.ReplicaDegraded {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReplicaID < out[j].ReplicaID })
	return out
}

// invalidate drops the cached snapshot for agentType so no cached
// entry outlives a mutation. Called under p.mu.
func (p *Pool) invalidate(agentType string) {
	if p.cache != nil {
		p.cache.Invalidate(agentType)
	}
}

// Seed loads the Pool's initial contents from lister (typically
// *agent.Store, backed by agent_replicas), so a freshly-started
// process doesn't dispatch against an empty pool before the next
// heartbeat cycle.
func (p *Pool) Seed(ctx context.Context, lister ReplicaLister) error {
	replicas, err := lister.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range replicas {
		p.Upsert(r)
	}
	return nil
}

// AllAgentTypes lists every agent type the Pool currently tracks, for
// the autoscaler's sweep.
func (p *Pool) AllAgentTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.replicas))
	for t := range p.replicas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
