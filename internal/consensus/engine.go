package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
)

// Verifier checks a ConsensusMessage's signature against the sender's
// current AgentCertificate. Isolated senders are rejected by the
// Engine itself (via its isolated set) before Verifier is consulted;
// rejecting a revoked certificate is left to the Verifier.
type Verifier interface {
	Verify(senderID string, msg ConsensusMessage) bool
}

// Broadcaster sends a ConsensusMessage to every known peer. The Engine
// never holds direct references to peers — only this sender handle —
// per spec.md §9's star-topology redesign.
type Broadcaster interface {
	Broadcast(msg ConsensusMessage)
}

// Engine drives the PBFT protocol for one node among a fixed peer set.
type Engine struct {
	mu sync.Mutex

	selfID       string
	peers        []string // sorted peer ids, primary = peers[view % n]
	n            int
	f            int
	view         int64
	nextSequence int64

	rounds    map[roundKey]*Round
	isolated  map[string]bool
	suspicion *suspicionTracker

	verifier      Verifier
	broadcaster   Broadcaster
	suspicionSink SuspicionSink

	roundDeadline      time.Duration
	viewChangeDeadline time.Duration

	viewChangeVotes map[int64]map[string]*ConsensusMessage

	onDecided func(*Round)
}

type roundKey struct {
	view     int64
	sequence int64
}

// NewEngine builds an Engine for selfID among peers (including
// selfID), with verifier checking signatures and broadcaster fanning
// messages out to the peer set.
func NewEngine(selfID string, peers []string, verifier Verifier, broadcaster Broadcaster, roundDeadline, viewChangeDeadline time.Duration) *Engine {
	sorted := append([]string(nil), peers...)
	sort.Strings(sorted)

	return &Engine{
		selfID:             selfID,
		peers:              sorted,
		n:                  len(sorted),
		f:                  faultTolerance(len(sorted)),
		view:               0,
		nextSequence:       1,
		rounds:             make(map[roundKey]*Round),
		isolated:           make(map[string]bool),
		suspicion:          newSuspicionTracker(3),
		verifier:           verifier,
		broadcaster:        broadcaster,
		roundDeadline:      roundDeadline,
		viewChangeDeadline: viewChangeDeadline,
		viewChangeVotes:    make(map[int64]map[string]*ConsensusMessage),
	}
}

// SetOnDecided registers a callback fired exactly once per round when
// it transitions to DECIDED.
func (e *Engine) SetOnDecided(fn func(*Round)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDecided = fn
}

// Digest computes the stable content identity of a Proposal, the PBFT
// payload id carried on every message instead of the full payload —
// grounded on the teacher's digest() (canonical JSON + SHA256).
func Digest(p *Proposal) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (e *Engine) primaryForView(view int64) string {
	if e.n == 0 {
		return ""
	}
	idx := ((view % int64(e.n)) + int64(e.n)) % int64(e.n)
	return e.peers[idx]
}

func (e *Engine) liveCount() int {
	live := 0
	for _, p := range e.peers {
		if !e.isolated[p] {
			live++
		}
	}
	return live
}

// Propose starts a new round: only the primary for the current view
// may call this. It assigns the next sequence number, computes the
// digest, and broadcasts PRE_PREPARE.
func (e *Engine) Propose(proposal *Proposal) (*ConsensusMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.primaryForView(e.view) != e.selfID {
		return nil, aerrors.New("consensus.Propose", aerrors.KindValidation, "only the primary may propose")
	}
	if e.liveCount() < quorum(e.f) {
		return nil, aerrors.New("consensus.Propose", aerrors.KindQuorumUnavailable, "insufficient live peers for quorum")
	}

	digest, err := Digest(proposal)
	if err != nil {
		return nil, aerrors.Wrap(err, "consensus.Propose", aerrors.KindInternal, "digest computation failed")
	}

	seq := e.nextSequence
	e.nextSequence++

	key := roundKey{view: e.view, sequence: seq}
	round := newRound(e.view, seq)
	round.Digest = digest
	round.Proposal = proposal
	round.Deadline = round.StartTime.Add(e.roundDeadline)
	e.rounds[key] = round

	msg := &ConsensusMessage{
		Type:      MsgPrePrepare,
		View:      e.view,
		Sequence:  seq,
		Digest:    digest,
		SenderID:  e.selfID,
		Timestamp: time.Now(),
		Proposal:  proposal,
	}
	round.PrePrepare = msg

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(*msg)
	}
	return msg, nil
}

// HandlePrePrepare processes an incoming PRE_PREPARE: verifies it came
// from the view's primary, the sender isn't isolated, and no
// conflicting PRE_PREPARE exists for (view, sequence); creates the
// round and broadcasts PREPARE.
func (e *Engine) HandlePrePrepare(msg ConsensusMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.checkSenderAllowed(msg) {
		return aerrors.New("consensus.HandlePrePrepare", aerrors.KindByzantineDetected, "sender isolated or unverified")
	}
	if e.primaryForView(msg.View) != msg.SenderID {
		e.flagSuspicion(msg.SenderID, "pre-prepare from non-primary")
		return aerrors.New("consensus.HandlePrePrepare", aerrors.KindByzantineDetected, "pre-prepare from non-primary")
	}

	key := roundKey{view: msg.View, sequence: msg.Sequence}
	if existing, ok := e.rounds[key]; ok && existing.PrePrepare != nil && existing.Digest != msg.Digest {
		// Conflicting PRE_PREPAREs for the same (view, sequence) — one
		// Byzantine behavior, regardless of how many distinct digests
		// the primary sends.
		e.flagSuspicion(msg.SenderID, "conflicting pre-prepare")
		return aerrors.New("consensus.HandlePrePrepare", aerrors.KindByzantineDetected, "conflicting pre-prepare for same view/sequence")
	}

	round, ok := e.rounds[key]
	if !ok {
		round = newRound(msg.View, msg.Sequence)
		round.Deadline = round.StartTime.Add(e.roundDeadline)
		e.rounds[key] = round
	}
	round.Digest = msg.Digest
	round.Proposal = msg.Proposal
	round.PrePrepare = &msg
	// Phase is left as is: newRound starts at PRE_PREPARE, and a round
	// that already advanced (the primary's own, once its peers' votes
	// arrived first) must not move back.

	prepare := ConsensusMessage{
		Type:      MsgPrepare,
		View:      msg.View,
		Sequence:  msg.Sequence,
		Digest:    msg.Digest,
		SenderID:  e.selfID,
		Timestamp: time.Now(),
	}
	round.Prepares[e.selfID] = &prepare

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(prepare)
	}
	return nil
}

// HandlePrepare processes an incoming PREPARE and, once ≥2f+1 matching
// PREPAREs accumulate, broadcasts COMMIT.
func (e *Engine) HandlePrepare(msg ConsensusMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	round, err := e.recordVote(msg, MsgPrepare)
	if err != nil {
		return err
	}
	if round == nil || round.Decided {
		return nil
	}

	if round.Phase == PhasePrePrepare && e.matchingCount(round.Prepares, round.Digest) >= quorum(e.f) {
		round.Phase = PhasePrepare

		commit := ConsensusMessage{
			Type:      MsgCommit,
			View:      round.View,
			Sequence:  round.Sequence,
			Digest:    round.Digest,
			SenderID:  e.selfID,
			Timestamp: time.Now(),
		}
		round.Commits[e.selfID] = &commit

		if e.broadcaster != nil {
			e.broadcaster.Broadcast(commit)
		}
	}
	return nil
}

// HandleCommit processes an incoming COMMIT and, once ≥2f+1 matching
// COMMITs accumulate, transitions the round to DECIDED exactly once.
func (e *Engine) HandleCommit(msg ConsensusMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	round, err := e.recordVote(msg, MsgCommit)
	if err != nil {
		return err
	}
	if round == nil || round.Decided {
		return nil
	}

	if round.Phase == PhasePrepare && e.matchingCount(round.Commits, round.Digest) >= quorum(e.f) {
		round.Phase = PhaseDecided
		round.Decided = true

		if e.onDecided != nil {
			cb := e.onDecided
			r := round
			go cb(r)
		}
	}
	return nil
}

// recordVote validates and stores a PREPARE/COMMIT vote, creating a
// buffered round if (view, sequence) is unknown but within a small
// future window, matching spec.md §4.3's "buffered; beyond the window,
// dropped."
func (e *Engine) recordVote(msg ConsensusMessage, kind MessageType) (*Round, error) {
	if !e.checkSenderAllowed(msg) {
		return nil, aerrors.New("consensus.recordVote", aerrors.KindByzantineDetected, "sender isolated or unverified")
	}

	key := roundKey{view: msg.View, sequence: msg.Sequence}
	round, ok := e.rounds[key]
	if !ok {
		if msg.Sequence > e.nextSequence+bufferWindow {
			return nil, nil // dropped: too far in the future
		}
		round = newRound(msg.View, msg.Sequence)
		round.Deadline = time.Now().Add(e.roundDeadline)
		e.rounds[key] = round
	}
	if round.Decided {
		// Idempotent: accepted but does not alter the decision.
		return round, nil
	}

	bucket := round.Prepares
	if kind == MsgCommit {
		bucket = round.Commits
	}

	if prior, exists := bucket[msg.SenderID]; exists && prior.Digest != msg.Digest {
		e.flagSuspicion(msg.SenderID, "conflicting "+string(kind))
		return round, nil
	}
	m := msg
	bucket[msg.SenderID] = &m
	return round, nil
}

// bufferWindow bounds how far into the future an unknown sequence
// number is buffered rather than dropped.
const bufferWindow = 50

// matchingCount returns how many of bucket's messages share digest.
func (e *Engine) matchingCount(bucket map[string]*ConsensusMessage, digest string) int {
	count := 0
	for _, m := range bucket {
		if m.Digest == digest {
			count++
		}
	}
	return count
}

func (e *Engine) checkSenderAllowed(msg ConsensusMessage) bool {
	if e.isolated[msg.SenderID] {
		return false
	}
	if e.verifier != nil && !e.verifier.Verify(msg.SenderID, msg) {
		e.flagSuspicion(msg.SenderID, "invalid signature")
		return false
	}
	return true
}

// Round returns a snapshot of (view, sequence)'s state, or nil if
// unknown.
func (e *Engine) Round(view, sequence int64) *Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[roundKey{view: view, sequence: sequence}]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// View returns the engine's current view number.
func (e *Engine) View() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// IsIsolated reports whether peerID has been isolated.
func (e *Engine) IsIsolated(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isolated[peerID]
}

func (e *Engine) isolate(peerID string) {
	if e.isolated[peerID] {
		return
	}
	e.isolated[peerID] = true
	logger.Warnw("consensus peer isolated",
		logger.FieldNodeID, peerID,
		logger.FieldViewNumber, e.view)

	// An isolated peer's earlier votes must stop counting toward any
	// quorum reached after isolation — §8's "none from isolated peers"
	// invariant, not just "no new votes accepted."
	for _, round := range e.rounds {
		delete(round.Prepares, peerID)
		delete(round.Commits, peerID)
	}

	if e.primaryForView(e.view) == peerID {
		e.forceViewChangeLocked()
	}
}
