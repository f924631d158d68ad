package consensus

import "time"

// suspicionTracker counts Byzantine signals per peer within a sliding
// window; crossing threshold isolates the peer. Signals counted:
// invalid signature, conflicting message, malformed payload, violation
// of view/primary rules — per spec.md §4.3.
type suspicionTracker struct {
	threshold int
	window    time.Duration
	events    map[string][]time.Time
}

func newSuspicionTracker(threshold int) *suspicionTracker {
	return &suspicionTracker{
		threshold: threshold,
		window:    time.Minute,
		events:    make(map[string][]time.Time),
	}
}

// record adds a suspicion event for peerID and reports whether the
// peer has now crossed the isolation threshold within the window.
func (t *suspicionTracker) record(peerID string, now time.Time) bool {
	cutoff := now.Add(-t.window)
	kept := t.events[peerID][:0]
	for _, ts := range t.events[peerID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.events[peerID] = kept
	return len(kept) >= t.threshold
}

// SuspicionEvent is the persisted form of one flagged signal, for the
// `suspicion_events` table supplementing the diagnostic "dump
// consensus state" command (SPEC_FULL.md §3).
type SuspicionEvent struct {
	PeerID    string    `db:"peer_id" json:"peer_id"`
	Reason    string    `db:"reason" json:"reason"`
	View      int64     `db:"view" json:"view"`
	Sequence  int64     `db:"sequence" json:"sequence"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// SuspicionSink persists SuspicionEvents; wired to a Postgres-backed
// recorder in production, nil-safe so unit tests don't need a pool.
type SuspicionSink interface {
	RecordSuspicion(SuspicionEvent)
}

// SetSuspicionSink wires the persistence sink for suspicion events.
func (e *Engine) SetSuspicionSink(sink SuspicionSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspicionSink = sink
}

// flagSuspicion increments peerID's suspicion counter and isolates it
// once the threshold is crossed within the window. Must be called with
// e.mu held.
func (e *Engine) flagSuspicion(peerID, reason string) {
	now := time.Now()
	if e.suspicionSink != nil {
		e.suspicionSink.RecordSuspicion(SuspicionEvent{
			PeerID:    peerID,
			Reason:    reason,
			View:      e.view,
			Timestamp: now,
		})
	}
	if e.suspicion.record(peerID, now) {
		e.isolate(peerID)
	}
}
