// Package consensus implements the PBFT three-phase agreement protocol
// described in spec.md §4.3: given a Proposal submitted by the current
// view's primary, drive PRE_PREPARE/PREPARE/COMMIT to a DECIDED or
// ABORTED terminal state among n nodes tolerating f = ⌊(n-1)/3⌋
// Byzantine nodes.
//
// Grounded on _examples/mckim19-PBFT-Practical_Byzantine_Fault_Tolerance's
// State (quorum counting via 2f+1, stage machine, digest-from-canonical-
// JSON), generalized to multi-round bookkeeping keyed by (view,
// sequence), per-peer suspicion/isolation, and VIEW_CHANGE/NEW_VIEW —
// none of which the teacher's minimal reference implements.
package consensus

import "time"

// Phase is a ConsensusRound's position in the three-phase protocol.
type Phase string

const (
	PhasePrePrepare Phase = "PRE_PREPARE"
	PhasePrepare    Phase = "PREPARE"
	PhaseCommit     Phase = "COMMIT"
	PhaseDecided    Phase = "DECIDED"
	PhaseAborted    Phase = "ABORTED"
)

// MessageType discriminates a ConsensusMessage's protocol role.
type MessageType string

const (
	MsgPrePrepare MessageType = "PRE_PREPARE"
	MsgPrepare    MessageType = "PREPARE"
	MsgCommit     MessageType = "COMMIT"
	MsgViewChange MessageType = "VIEW_CHANGE"
	MsgNewView    MessageType = "NEW_VIEW"
)

// Proposal is a Recommendation the Coordinator has promoted for
// consensus; Digest is the stable identity PBFT messages carry instead
// of the full payload.
type Proposal struct {
	IncidentID string         `json:"incident_id"`
	ActionID   string         `json:"action_id"`
	Payload    map[string]any `json:"payload"`
}

// ConsensusMessage is the wire shape of every PBFT protocol message —
// "every message carries (view, sequence, digest, sender_id,
// timestamp, signature)" per spec.md §4.3.
type ConsensusMessage struct {
	Type      MessageType `json:"type"`
	View      int64       `json:"view"`
	Sequence  int64       `json:"sequence"`
	Digest    string      `json:"digest"`
	SenderID  string      `json:"sender_id"`
	Timestamp time.Time   `json:"timestamp"`
	Signature []byte      `json:"signature"`

	// Proposal is populated only on PRE_PREPARE; PREPARE/COMMIT carry
	// just the digest, per the protocol.
	Proposal *Proposal `json:"proposal,omitempty"`

	// NewView carries the set of not-yet-decided sequences on NEW_VIEW.
	NewView          int64   `json:"new_view,omitempty"`
	StableCheckpoint int64   `json:"stable_checkpoint,omitempty"`
	PendingSequences []int64 `json:"pending_sequences,omitempty"`
}

// Round is one (view, sequence)'s in-flight or decided state.
type Round struct {
	View       int64
	Sequence   int64
	Digest     string
	Proposal   *Proposal
	Phase      Phase
	PrePrepare *ConsensusMessage
	Prepares   map[string]*ConsensusMessage // keyed by sender_id
	Commits    map[string]*ConsensusMessage
	StartTime  time.Time
	Deadline   time.Time
	Decided    bool
}

func newRound(view, sequence int64) *Round {
	return &Round{
		View:      view,
		Sequence:  sequence,
		Phase:     PhasePrePrepare,
		Prepares:  make(map[string]*ConsensusMessage),
		Commits:   make(map[string]*ConsensusMessage),
		StartTime: time.Now(),
	}
}

// quorum is the number of matching messages required to advance a
// phase: 2f+1, including the node's own vote.
func quorum(f int) int { return 2*f + 1 }

// faultTolerance computes f = ⌊(n-1)/3⌋ for n total nodes.
func faultTolerance(n int) int { return (n - 1) / 3 }
