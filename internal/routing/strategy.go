package routing

import (
	"sort"
	"sync"

	"github.com/aegisflow/aegis/internal/agent"
)

// StrategyName selects which pure selection function Select uses.
type StrategyName string

const (
	RoundRobin            StrategyName = "round_robin"
	LeastLoaded           StrategyName = "least_loaded"
	WeightedByPerformance StrategyName = "weighted_by_performance"
	RegionAffinity        StrategyName = "region_affinity"
	SeverityAware         StrategyName = "severity_aware"
)

// roundRobinCounters tracks the next index per agent type for
// RoundRobin, guarded by the same lock a caller already holds when
// invoking Select through a Pool-owning dispatcher — kept here as a
// package-level map since the strategy functions themselves are pure
// and stateless otherwise.
var roundRobinCounters = struct {
	mu     sync.Mutex
	counts map[string]int
}{counts: make(map[string]int)}

// Select picks one replica from candidates (already filtered to
// Healthy by the caller) per spec.md §4.6's five strategies. Returns
// nil if candidates is empty.
func Select(strategy StrategyName, agentType string, candidates []agent.Replica, preferredRegion string, severity agent.Severity) *agent.Replica {
	if len(candidates) == 0 {
		return nil
	}

	switch strategy {
	case LeastLoaded:
		return leastLoaded(candidates)
	case WeightedByPerformance:
		return weightedByPerformance(candidates)
	case RegionAffinity:
		return regionAffinity(candidates, preferredRegion)
	case SeverityAware:
		return severityAware(candidates, severity)
	default: // RoundRobin, and the fallback for an unrecognized name
		return roundRobin(agentType, candidates)
	}
}

func roundRobin(agentType string, candidates []agent.Replica) *agent.Replica {
	roundRobinCounters.mu.Lock()
	idx := roundRobinCounters.counts[agentType] % len(candidates)
	roundRobinCounters.counts[agentType] = idx + 1
	roundRobinCounters.mu.Unlock()
	r := candidates[idx]
	return &r
}

func leastLoaded(candidates []agent.Replica) *agent.Replica {
	best := candidates[0]
	for _, r := range candidates[1:] {
		if loadRatio(r) < loadRatio(best) {
			best = r
		}
	}
	return &best
}

func loadRatio(r agent.Replica) float64 {
	if r.MaxCapacity <= 0 {
		return 1.0
	}
	return float64(r.CurrentLoad) / float64(r.MaxCapacity)
}

func weightedByPerformance(candidates []agent.Replica) *agent.Replica {
	best := candidates[0]
	for _, r := range candidates[1:] {
		if r.PerformanceScore > best.PerformanceScore {
			best = r
		}
	}
	return &best
}

func regionAffinity(candidates []agent.Replica, preferredRegion string) *agent.Replica {
	inRegion := make([]agent.Replica, 0, len(candidates))
	for _, r := range candidates {
		if r.Region == preferredRegion {
			inRegion = append(inRegion, r)
		}
	}
	if len(inRegion) == 0 {
		return leastLoaded(candidates)
	}
	return leastLoaded(inRegion)
}

// severityAware prefers the highest-performance replica for
// high/critical incidents (spec.md §4.6: "critical incidents prefer
// highest-performance replicas"), and otherwise balances load.
func severityAware(candidates []agent.Replica, severity agent.Severity) *agent.Replica {
	if severity == agent.SeverityHigh || severity == agent.SeverityCritical {
		return weightedByPerformance(candidates)
	}
	return leastLoaded(candidates)
}

// FallbackChain orders candidates for the retry-on-failure sequence
// spec.md §4.5 describes: "next healthy replica in the same type,
// then a lower-fidelity substitute" — modeled here as healthy
// replicas ranked by performance (best first), then degraded replicas
// ranked the same way as the lower-fidelity tier.
func FallbackChain(all []agent.Replica) []agent.Replica {
	var healthy, degraded []agent.Replica
	for _, r := range all {
		switch r.Status {
		case agent.ReplicaHealthy:
			healthy = append(healthy, r)
		case agent.ReplicaDegraded:
			degraded = append(degraded, r)
		}
	}
	byPerformanceDesc := func(list []agent.Replica) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].PerformanceScore > list[j].PerformanceScore })
	}
	byPerformanceDesc(healthy)
	byPerformanceDesc(degraded)
	return append(healthy, degraded...)
}
