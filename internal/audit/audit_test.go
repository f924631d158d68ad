package audit

import (
	"context"
	"testing"

	"github.com/aegisflow/aegis/internal/chain"
)

func TestVerifyLinks_GenesisChainIntact(t *testing.T) {
	h1, _ := chain.IntegrityHash("system", "a", map[string]any{"n": 1}, "2026-01-01T00:00:00Z")
	h2, _ := chain.IntegrityHash("system", "b", map[string]any{"n": 2}, "2026-01-01T00:00:01Z")
	links := []chain.Link{
		{Sequence: 1, IntegrityHash: h1, PreviousHash: chain.ZeroHash},
		{Sequence: 2, IntegrityHash: h2, PreviousHash: h1},
	}
	if brokenAt, ok := verifyLinks(links, true); !ok || brokenAt != 0 {
		t.Errorf("expected intact chain, got brokenAt=%d ok=%v", brokenAt, ok)
	}
}

func TestVerifyLinks_DetectsSequenceGap(t *testing.T) {
	links := []chain.Link{
		{Sequence: 1, IntegrityHash: "h1", PreviousHash: chain.ZeroHash},
		{Sequence: 3, IntegrityHash: "h3", PreviousHash: "h1"},
	}
	brokenAt, ok := verifyLinks(links, true)
	if ok || brokenAt != 3 {
		t.Errorf("expected break detected at sequence 3, got brokenAt=%d ok=%v", brokenAt, ok)
	}
}

func TestVerifyLinks_DetectsHashMismatch(t *testing.T) {
	links := []chain.Link{
		{Sequence: 1, IntegrityHash: "h1", PreviousHash: chain.ZeroHash},
		{Sequence: 2, IntegrityHash: "h2", PreviousHash: "wrong-prev"},
	}
	brokenAt, ok := verifyLinks(links, true)
	if ok || brokenAt != 2 {
		t.Errorf("expected break detected at sequence 2, got brokenAt=%d ok=%v", brokenAt, ok)
	}
}

func TestVerifyLinks_PartialRangeDoesNotRequireGenesis(t *testing.T) {
	// A range starting mid-chain (sequence 5) can't assert ZeroHash as
	// the first previous_hash, only that its own slice is internally
	// contiguous and hash-linked.
	links := []chain.Link{
		{Sequence: 5, IntegrityHash: "h5", PreviousHash: "h4"},
		{Sequence: 6, IntegrityHash: "h6", PreviousHash: "h5"},
	}
	if brokenAt, ok := verifyLinks(links, false); !ok || brokenAt != 0 {
		t.Errorf("expected partial range to verify as intact, got brokenAt=%d ok=%v", brokenAt, ok)
	}
}

func TestVerifyLinks_EmptyIsIntact(t *testing.T) {
	if brokenAt, ok := verifyLinks(nil, true); !ok || brokenAt != 0 {
		t.Errorf("expected an empty chain to be trivially intact, got brokenAt=%d ok=%v", brokenAt, ok)
	}
}

func TestMemObjectStore_PutThenGet(t *testing.T) {
	store := NewMemObjectStore()
	if err := store.PutObject(context.Background(), "audit/system/1.json", []byte(`[]`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, ok := store.Get("audit/system/1.json")
	if !ok || string(data) != `[]` {
		t.Errorf("expected to read back what was written, got %q ok=%v", data, ok)
	}
	if _, ok := store.Get("missing"); ok {
		t.Error("expected missing key to report ok=false")
	}
}

func TestMemObjectStore_KeysTracksEveryPut(t *testing.T) {
	store := NewMemObjectStore()
	_ = store.PutObject(context.Background(), "a", []byte("x"))
	_ = store.PutObject(context.Background(), "b", []byte("y"))

	keys := store.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestMemObjectStore_PutOverwritesIsolatedCopy(t *testing.T) {
	store := NewMemObjectStore()
	original := []byte("original")
	_ = store.PutObject(context.Background(), "k", original)
	original[0] = 'X' // mutating the caller's slice must not affect the stored copy

	data, _ := store.Get("k")
	if string(data) != "original" {
		t.Errorf("expected stored object to be isolated from caller mutation, got %q", data)
	}
}
