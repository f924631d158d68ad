package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aegisflow/aegis/internal/store"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// SnapshotThresholdEvents is how many events beyond a snapshot's
// up_to_sequence trigger taking a new one rather than replaying from
// scratch; callers decide when to call CreateSnapshot, this only
// governs Replay's snapshot-vs-full-replay choice.
const SnapshotThresholdEvents = 100

// Snapshot is a point-in-time reconstruction of an incident's
// Coordinator-maintained projections, serialized exactly as decided in
// DESIGN.md's Open Question #3: never a raw struct dump, only the
// fields replay() actually reconstructs.
type Snapshot struct {
	IncidentID string         `db:"incident_id" json:"incident_id"`
	UpToSeq    uint64         `db:"up_to_sequence" json:"up_to_sequence"`
	State      map[string]any `db:"state" json:"state"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	TTL        int64          `db:"ttl" json:"ttl"`
}

// CreateSnapshot stores a new snapshot for incidentID at upToSeq,
// replacing any snapshot at the same sequence.
func (s *Store) CreateSnapshot(ctx context.Context, incidentID string, upToSeq uint64, state map[string]any) error {
	now := time.Now().UTC()
	ttl := now.AddDate(0, 0, 30).Unix() // ~30 day TTL per spec.md §3

	_, err := s.Pool().Exec(ctx,
		`INSERT INTO snapshots (incident_id, up_to_sequence, state, created_at, ttl)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (incident_id, up_to_sequence) DO UPDATE
		   SET state = EXCLUDED.state, created_at = EXCLUDED.created_at, ttl = EXCLUDED.ttl`,
		incidentID, upToSeq, store.MustMarshalJSON(state), now, ttl)
	if err != nil {
		return aerrors.Wrap(err, "eventstore.CreateSnapshot", aerrors.KindStorageUnavailable, "insert failed")
	}
	return nil
}

// GetSnapshot returns the most recent snapshot for incidentID, or nil
// if none exists.
func (s *Store) GetSnapshot(ctx context.Context, incidentID string) (*Snapshot, error) {
	row := s.Pool().QueryRow(ctx,
		`SELECT incident_id, up_to_sequence, state, created_at, ttl
		 FROM snapshots WHERE incident_id = $1
		 ORDER BY up_to_sequence DESC LIMIT 1`, incidentID)

	var snap Snapshot
	var rawState []byte
	if err := row.Scan(&snap.IncidentID, &snap.UpToSeq, &rawState, &snap.CreatedAt, &snap.TTL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, aerrors.Wrap(err, "eventstore.GetSnapshot", aerrors.KindStorageUnavailable, "query failed")
	}
	snap.State = map[string]any{}
	if err := json.Unmarshal(rawState, &snap.State); err != nil {
		return nil, aerrors.Wrap(err, "eventstore.GetSnapshot", aerrors.KindCorruption, "snapshot state unmarshal failed")
	}
	return &snap, nil
}

// ReplayState is the reconstructed projection Replay returns: the
// snapshot's state (or empty, if replaying from scratch) folded
// forward through every event above the snapshot's sequence.
type ReplayState struct {
	IncidentID string         `json:"incident_id"`
	Version    uint64         `json:"version"`
	State      map[string]any `json:"state"`
}

// Replay reconstructs an incident's current state. It uses the latest
// snapshot when the current version is more than SnapshotThresholdEvents
// ahead of it, otherwise replays from sequence 1 — functionally
// equivalent either way, per spec.md §8's round-trip law.
func (s *Store) Replay(ctx context.Context, incidentID string) (*ReplayState, error) {
	version, err := s.CurrentVersion(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	fromSeq := uint64(1)
	state := map[string]any{}

	snap, err := s.GetSnapshot(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if snap != nil && version-snap.UpToSeq <= SnapshotThresholdEvents && snap.UpToSeq > 0 {
		fromSeq = snap.UpToSeq + 1
		state = snap.State
	}

	events, err := s.GetEvents(ctx, incidentID, fromSeq)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		applyEventToState(state, ev)
	}

	return &ReplayState{IncidentID: incidentID, Version: version, State: state}, nil
}

// applyEventToState folds one event into the running projection. Every
// event type becomes a "last known value" entry keyed by event_type,
// matching DESIGN.md's snapshot-contents decision — the Coordinator's
// higher-level projections (dispatch progress, recommendation set, …)
// are built from this same fold, not duplicated here.
func applyEventToState(state map[string]any, ev Event) {
	state[ev.EventType] = ev.Payload
	state["_last_sequence"] = ev.Sequence
}
