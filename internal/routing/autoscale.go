package routing

import (
	"time"

	"github.com/aegisflow/aegis/internal/config"
)

// ScalingAction is what EvaluateScaling recommends.
type ScalingAction string

const (
	ScaleNone ScalingAction = "none"
	ScaleUp   ScalingAction = "scale_up"
	ScaleDown ScalingAction = "scale_down"
)

// ScalingDecision is EvaluateScaling's verdict for one agent type.
type ScalingDecision struct {
	Action         ScalingAction
	TargetReplicas int
	Reason         string
}

// EvaluateScaling is a pure function — no I/O, no locks, exhaustively
// unit-testable in isolation — grounded on the teacher's
// orchestrator/master_logic.go idiom of separating decision logic from
// the stateful code that acts on it. It enforces spec.md §4.6's
// constraints: never cross [min_replicas, max_replicas], respect
// cooldown, and never recommend a change while another scaling action
// is already in flight for that type (inFlight).
func EvaluateScaling(pool config.ReplicaPoolConfig, current int, utilization float64, scaleUpThreshold, scaleDownThreshold float64, lastScaledAt, now time.Time, cooldown time.Duration, inFlight bool) ScalingDecision {
	if inFlight {
		return ScalingDecision{Action: ScaleNone, TargetReplicas: current, Reason: "scaling already in flight for this agent type"}
	}
	if now.Sub(lastScaledAt) < cooldown {
		return ScalingDecision{Action: ScaleNone, TargetReplicas: current, Reason: "cooldown not yet elapsed"}
	}

	switch {
	case utilization >= scaleUpThreshold && current < pool.MaxReplicas:
		target := current + 1
		if target > pool.MaxReplicas {
			target = pool.MaxReplicas
		}
		return ScalingDecision{Action: ScaleUp, TargetReplicas: target, Reason: "utilization at or above scale-up threshold"}

	case utilization <= scaleDownThreshold && current > pool.MinReplicas:
		target := current - 1
		if target < pool.MinReplicas {
			target = pool.MinReplicas
		}
		return ScalingDecision{Action: ScaleDown, TargetReplicas: target, Reason: "utilization at or below scale-down threshold"}

	default:
		return ScalingDecision{Action: ScaleNone, TargetReplicas: current, Reason: "utilization within target band"}
	}
}

// SelectScaleRegion picks which region a new replica should join,
// balancing replica counts across regions per spec.md §4.6 ("region
// selection for new replicas balances replica counts across
// regions"): the region with the fewest current replicas wins, ties
// broken by name for determinism.
func SelectScaleRegion(regionCounts map[string]int, candidateRegions []string) string {
	if len(candidateRegions) == 0 {
		return ""
	}
	best := candidateRegions[0]
	for _, region := range candidateRegions[1:] {
		if regionCounts[region] < regionCounts[best] ||
			(regionCounts[region] == regionCounts[best] && region < best) {
			best = region
		}
	}
	return best
}
