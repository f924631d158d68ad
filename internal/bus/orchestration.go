// orchestration.go — in-memory tracker of active consensus rounds,
// mirroring Begin/Update/End transitions onto the MessageBus so a CLI
// or dashboard can observe round progress without querying Postgres
// on every tick.
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// RoundState is the tracked state of one in-flight consensus round.
type RoundState struct {
	RoundID       string    `json:"round_id"`
	IncidentID    string    `json:"incident_id"`
	Phase         string    `json:"phase"` // pre_prepare / prepare / commit
	ViewNumber    int       `json:"view_number"`
	StatusDetails string    `json:"status_details"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConsensusSnapshot is a point-in-time view of every in-flight round.
type ConsensusSnapshot struct {
	Seq         int64        `json:"seq"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Running     bool         `json:"running"`
	ActiveCount int          `json:"active_count"`
	Warning     string       `json:"warning,omitempty"`
	ActiveRounds []RoundState `json:"active_rounds"`
}

// ConsensusRoundTracker tracks in-flight PBFT rounds in memory and
// publishes lifecycle events onto the bus for any subscriber. The CLI's
// `consensus dump` does not read these; it queries consensus_rounds in
// Postgres.
type ConsensusRoundTracker struct {
	mu           sync.RWMutex // guards activeRounds/warning
	activeRounds map[string]*RoundState
	warning      string
	bus          *MessageBus
}

// NewConsensusRoundTracker creates a tracker publishing onto bus.
func NewConsensusRoundTracker(bus *MessageBus) *ConsensusRoundTracker {
	return &ConsensusRoundTracker{
		activeRounds: make(map[string]*RoundState),
		bus:          bus,
	}
}

// BeginRound records the start of a new consensus round.
func (c *ConsensusRoundTracker) BeginRound(roundID, incidentID string, viewNumber int, source string) {
	c.mu.Lock()
	round := &RoundState{
		RoundID:    roundID,
		IncidentID: incidentID,
		Phase:      "pre_prepare",
		ViewNumber: viewNumber,
		UpdatedAt:  time.Now(),
	}
	c.activeRounds[roundID] = round
	c.mu.Unlock()

	c.publishEvent("BeginConsensusRound", roundID, source, map[string]string{
		"incident_id": incidentID,
		"phase":       round.Phase,
	})
}

// UpdateRound advances the tracked phase for roundID, creating the
// entry if a phase update arrives before BeginRound was observed.
func (c *ConsensusRoundTracker) UpdateRound(roundID, phase, statusDetails, source string) {
	c.mu.Lock()
	round, ok := c.activeRounds[roundID]
	if !ok {
		round = &RoundState{RoundID: roundID}
		c.activeRounds[roundID] = round
	}
	if phase != "" {
		round.Phase = phase
	}
	if statusDetails != "" {
		round.StatusDetails = statusDetails
	}
	round.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.publishEvent("UpdateConsensusRound", roundID, source, map[string]string{
		"phase":          phase,
		"status_details": statusDetails,
	})
}

// EndRound marks roundID as resolved (committed, or abandoned by a
// view change) and drops it from the active set.
func (c *ConsensusRoundTracker) EndRound(roundID, source string) {
	c.mu.Lock()
	delete(c.activeRounds, roundID)
	c.mu.Unlock()

	c.publishEvent("EndConsensusRound", roundID, source, nil)
}

// SetWarning records an operator-visible warning (e.g. "view change in
// progress, quorum degraded").
func (c *ConsensusRoundTracker) SetWarning(warning, source string) {
	c.mu.Lock()
	c.warning = warning
	c.mu.Unlock()

	c.publishEvent("SetConsensusWarning", "", source, map[string]string{
		"warning": warning,
	})
}

// Snapshot returns the current state of every tracked round.
func (c *ConsensusRoundTracker) Snapshot() ConsensusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rounds := make([]RoundState, 0, len(c.activeRounds))
	for _, r := range c.activeRounds {
		rounds = append(rounds, *r)
	}

	return ConsensusSnapshot{
		Seq:          c.bus.Seq(),
		UpdatedAt:    time.Now(),
		Running:      len(rounds) > 0,
		ActiveCount:  len(rounds),
		Warning:      c.warning,
		ActiveRounds: rounds,
	}
}

// Reset clears every tracked round and warning.
func (c *ConsensusRoundTracker) Reset(source string) {
	c.mu.Lock()
	c.activeRounds = make(map[string]*RoundState)
	c.warning = ""
	c.mu.Unlock()

	c.publishEvent("ResetConsensusTracker", "", source, nil)
}

func (c *ConsensusRoundTracker) publishEvent(event, roundID, source string, extra map[string]string) {
	payload := map[string]string{
		"event":    event,
		"round_id": roundID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)

	c.bus.Publish(Envelope{
		Topic:   TopicConsensus + "." + event,
		From:    source,
		To:      TopicAll,
		Type:    MsgStatusUpdate,
		Payload: data,
	})
}
