package eventstore

import (
	"testing"

	"github.com/aegisflow/aegis/internal/chain"
)

func TestPartitionKey_Deterministic(t *testing.T) {
	k1 := partitionKey("inc-1")
	k2 := partitionKey("inc-1")
	if k1 != k2 {
		t.Errorf("partitionKey not deterministic: %s != %s", k1, k2)
	}
}

func TestPartitionKey_DiffersAcrossIncidents(t *testing.T) {
	k1 := partitionKey("inc-1")
	k2 := partitionKey("inc-2")
	if k1 == k2 {
		t.Errorf("expected different partition keys, got same: %s", k1)
	}
}

func TestApplyEventToState_FoldsLatestPayloadPerType(t *testing.T) {
	state := map[string]any{}
	applyEventToState(state, Event{EventType: "CREATED", Sequence: 1, Payload: map[string]any{"severity": "high"}})
	applyEventToState(state, Event{EventType: "RESOLVED", Sequence: 2, Payload: map[string]any{"outcome": "ok"}})

	if state["CREATED"] == nil || state["RESOLVED"] == nil {
		t.Fatalf("expected both event types present in state: %+v", state)
	}
	if state["_last_sequence"] != uint64(2) {
		t.Errorf("expected _last_sequence=2, got %v", state["_last_sequence"])
	}
}

func TestVerifyIntegrity_EmptyChainHashesMatchChainPackage(t *testing.T) {
	// ZeroHash used as the genesis previous_hash must match internal/chain's
	// constant exactly, since eventstore's first Append reads it from there.
	if chain.ZeroHash == "" {
		t.Fatal("expected a non-empty zero hash constant")
	}
}

func TestNew_NilPoolStoreHasNoReplicas(t *testing.T) {
	s := New(nil, nil, 3, 365, 3000, []string{"us-east", "us-west"})
	if s.replicas != nil {
		t.Error("expected a fresh Store to have no replica writer configured")
	}
	if s.maxAppendRetries != 3 {
		t.Errorf("maxAppendRetries = %d, want 3", s.maxAppendRetries)
	}
}

func TestRepairFromReplica_NoWriterConfigured(t *testing.T) {
	s := New(nil, nil, 3, 365, 3000, nil)
	if err := s.RepairFromReplica(nil, "inc-1", "us-east"); err == nil {
		t.Error("expected error when no replica writer is configured")
	}
}
