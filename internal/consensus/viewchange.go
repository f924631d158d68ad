package consensus

import "time"

// forceViewChangeLocked broadcasts VIEW_CHANGE for the next view.
// Called with e.mu held, either because the current primary was
// isolated or a round deadline elapsed without DECIDED.
func (e *Engine) forceViewChangeLocked() {
	newView := e.view + 1
	msg := ConsensusMessage{
		Type:             MsgViewChange,
		View:             e.view,
		NewView:          newView,
		SenderID:         e.selfID,
		Timestamp:        time.Now(),
		StableCheckpoint: e.lastDecidedSequenceLocked(),
		PendingSequences: e.pendingSequencesLocked(newView),
	}
	e.recordViewChangeVoteLocked(msg)

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(msg)
	}
}

// TriggerViewChange is the public entry point for a round-deadline
// timeout — the caller (a ticker owned outside the engine) observed
// that a round passed its Deadline without reaching DECIDED.
func (e *Engine) TriggerViewChange() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceViewChangeLocked()
}

func (e *Engine) lastDecidedSequenceLocked() int64 {
	var max int64
	for k, r := range e.rounds {
		if r.Decided && k.view == e.view && k.sequence > max {
			max = k.sequence
		}
	}
	return max
}

func (e *Engine) pendingSequencesLocked(newView int64) []int64 {
	var pending []int64
	for k, r := range e.rounds {
		if !r.Decided && k.view == e.view {
			pending = append(pending, k.sequence)
		}
	}
	return pending
}

// HandleViewChange records an incoming VIEW_CHANGE vote. Once ≥2f+1
// VIEW_CHANGEs for newView are collected, the new primary broadcasts
// NEW_VIEW and normal operation resumes at newView.
func (e *Engine) HandleViewChange(msg ConsensusMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isolated[msg.SenderID] {
		return nil
	}
	e.recordViewChangeVoteLocked(msg)

	votes := e.viewChangeVotes[msg.NewView]
	if len(votes) < quorum(e.f) {
		return nil
	}

	if e.primaryForView(msg.NewView) != e.selfID {
		return nil
	}

	pending := mergePendingSequences(votes)
	newViewMsg := ConsensusMessage{
		Type:             MsgNewView,
		View:             e.view,
		NewView:          msg.NewView,
		SenderID:         e.selfID,
		Timestamp:        time.Now(),
		PendingSequences: pending,
	}
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(newViewMsg)
	}
	e.view = msg.NewView
	return nil
}

// HandleNewView adopts newView as the current view once the new
// primary's NEW_VIEW arrives.
func (e *Engine) HandleNewView(msg ConsensusMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.primaryForView(msg.NewView) != msg.SenderID {
		e.flagSuspicion(msg.SenderID, "new-view from non-primary")
		return nil
	}
	e.view = msg.NewView
	return nil
}

func (e *Engine) recordViewChangeVoteLocked(msg ConsensusMessage) {
	votes, ok := e.viewChangeVotes[msg.NewView]
	if !ok {
		votes = make(map[string]*ConsensusMessage)
		e.viewChangeVotes[msg.NewView] = votes
	}
	m := msg
	votes[msg.SenderID] = &m
}

func mergePendingSequences(votes map[string]*ConsensusMessage) []int64 {
	seen := map[int64]bool{}
	var merged []int64
	for _, v := range votes {
		for _, seq := range v.PendingSequences {
			if !seen[seq] {
				seen[seq] = true
				merged = append(merged, seq)
			}
		}
	}
	return merged
}
