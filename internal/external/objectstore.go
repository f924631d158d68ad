package external

import (
	"context"
	"sync"

	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/eventstore"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// MemRegionStore is the object/stream-storage boundary spec.md §6
// names — append-record partitioned by incident_id, conditional
// put-item keyed by (incident_id, sequence), range query, cross-region
// put/get — kept interface-only at the call sites (eventstore.
// ReplicaWriter, audit.ObjectStore) per spec.md's non-goal on
// per-cloud SDK bindings. This in-memory, per-region implementation is
// what the CLI's diagnostic mode and this module's tests run against
// in place of whatever cloud object store a real deployment points
// eventstore.Store.SetReplicaWriter / audit.Store.Archive at.
//
// It satisfies both eventstore.ReplicaWriter (region-scoped incident
// replication) and audit.ObjectStore (archive blob storage) since both
// are the same underlying capability — conditional put/range-query
// against a partitioned, possibly cross-region store — applied to two
// different record shapes.
type MemRegionStore struct {
	mu      sync.RWMutex
	regions map[string]map[string][]eventstore.Event // region -> incident_id -> events
	blobs   map[string][]byte                         // object key -> bytes, region-agnostic
}

// NewMemRegionStore builds an empty store.
func NewMemRegionStore() *MemRegionStore {
	return &MemRegionStore{
		regions: make(map[string]map[string][]eventstore.Event),
		blobs:   make(map[string][]byte),
	}
}

// WriteEvent satisfies eventstore.ReplicaWriter: conditional put-item
// keyed by (incident_id, sequence) — a duplicate sequence for the same
// incident and region is silently idempotent, matching "must be
// idempotent-safe for retried calls."
func (m *MemRegionStore) WriteEvent(_ context.Context, region string, ev eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIncident, ok := m.regions[region]
	if !ok {
		byIncident = make(map[string][]eventstore.Event)
		m.regions[region] = byIncident
	}
	events := byIncident[ev.IncidentID]
	for _, existing := range events {
		if existing.Sequence == ev.Sequence {
			return nil
		}
	}
	byIncident[ev.IncidentID] = append(events, ev)
	return nil
}

// ReadEvents satisfies eventstore.ReplicaWriter: range query over
// incidentID's events in region, ascending by sequence.
func (m *MemRegionStore) ReadEvents(_ context.Context, region, incidentID string) ([]eventstore.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byIncident, ok := m.regions[region]
	if !ok {
		return nil, aerrors.New("external.MemRegionStore.ReadEvents", aerrors.KindStorageUnavailable, "unknown region")
	}
	events := append([]eventstore.Event(nil), byIncident[incidentID]...)
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Sequence < events[j-1].Sequence; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
	return events, nil
}

// PutObject satisfies audit.ObjectStore.
func (m *MemRegionStore) PutObject(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

// GetObject returns a previously archived blob, for verifying Archive
// wrote what it claims to have written.
func (m *MemRegionStore) GetObject(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	return data, ok
}

var _ eventstore.ReplicaWriter = (*MemRegionStore)(nil)
var _ audit.ObjectStore = (*MemRegionStore)(nil)
