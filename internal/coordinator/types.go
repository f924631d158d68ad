// Package coordinator drives the end-to-end handling of one Incident:
// dispatch to agent replicas, collect Recommendations, run consensus,
// execute the decided action, and record the outcome. It depends on
// the Event Store, Message Bus, Consensus Engine, and Scaling/Routing
// only through narrow interfaces defined here — never by importing
// those packages' concrete types directly — per spec.md §9's
// cyclic-graphs-broken-into-a-star-topology redesign flag.
//
// The per-incident state machine (NEW -> DISPATCHED ->
// AWAITING_RECOMMENDATIONS -> CONSENSUS -> EXECUTING -> RESOLVED, with
// ESCALATED/FAILED branches) is grounded on the teacher's
// internal/orchestrator/master.go State-enum/switch shape, adapted from
// a single shared ticker-polled state to one state machine instance
// driven procedurally per incident, since spec.md §4.5 describes an
// explicit seven-step protocol rather than an indefinitely-polled loop.
package coordinator

import (
	"time"

	"github.com/aegisflow/aegis/internal/agent"
)

// State is an Incident's position in the coordinator's state machine.
type State string

const (
	StateNew                     State = "NEW"
	StateDispatched              State = "DISPATCHED"
	StateAwaitingRecommendations State = "AWAITING_RECOMMENDATIONS"
	StateConsensus               State = "CONSENSUS"
	StateExecuting               State = "EXECUTING"
	StateResolved                State = "RESOLVED"
	StateEscalated               State = "ESCALATED"
	StateFailed                  State = "FAILED"
)

// allowedNext lists the only states each state may advance to, so a
// handler bug can't silently skip the ordering spec.md §4.5 mandates.
var allowedNext = map[State][]State{
	StateNew:                     {StateDispatched, StateFailed},
	StateDispatched:              {StateAwaitingRecommendations, StateEscalated, StateFailed},
	StateAwaitingRecommendations: {StateConsensus, StateEscalated, StateFailed},
	StateConsensus:               {StateExecuting, StateEscalated, StateFailed},
	StateExecuting:               {StateResolved, StateConsensus, StateEscalated, StateFailed},
}

func canAdvance(from, to State) bool {
	for _, s := range allowedNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RequiredAgentType is one agent type the Coordinator must collect a
// Recommendation from before promoting a Proposal.
type RequiredAgentType struct {
	AgentType string
	Required  bool
}

// Snapshot is the reconstructible, mutable state the Coordinator tracks
// per incident for the event store's Snapshot projection (Open Question
// #3: never a raw struct dump) — dispatch progress, collected
// recommendations, the decided action, and the execution outcome.
type Snapshot struct {
	IncidentID      string                 `json:"incident_id"`
	Status          agent.IncidentStatus   `json:"status"`
	State           State                  `json:"state"`
	Tags            map[string]string      `json:"tags"`
	Dispatched      []string               `json:"dispatched_agent_types"`
	Recommendations []agent.Recommendation `json:"recommendations"`
	DecidedAction   *agent.Recommendation  `json:"decided_action,omitempty"`
	ExecutionResult string                 `json:"execution_result,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
