package consensus

import (
	"context"
	"testing"
	"time"
)

func TestStore_RecordRound_NilPool(t *testing.T) {
	s := NewStore(nil)
	r := newRound(0, 1)
	if err := s.RecordRound(context.Background(), "inc-1", "act-1", r); err != nil {
		t.Errorf("expected nil-pool RecordRound to no-op, got %v", err)
	}
}

func TestStore_RecordVote_NilPool(t *testing.T) {
	s := NewStore(nil)
	msg := ConsensusMessage{Type: MsgPrepare, View: 0, Sequence: 1, SenderID: "node-a", Timestamp: time.Now()}
	if err := s.RecordVote(context.Background(), MsgPrepare, msg); err != nil {
		t.Errorf("expected nil-pool RecordVote to no-op, got %v", err)
	}
}

func TestStore_RecordSuspicion_NilPoolDoesNotPanic(t *testing.T) {
	s := NewStore(nil)
	s.RecordSuspicion(SuspicionEvent{PeerID: "node-b", Reason: "test", Timestamp: time.Now()})
}
