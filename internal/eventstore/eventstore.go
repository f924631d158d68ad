// Package eventstore is the authoritative, tamper-evident, ordered log
// of what happened to each incident.
//
// Every event is appended under an optimistic-concurrency check against
// a per-incident version counter, hash-chained via internal/chain, and
// fanned out to subscribers through an in-process bus.MessageBus
// instead of a raw Postgres LISTEN/NOTIFY connection — grounded on
// internal/store's BaseStore/QueryBuilder pattern and
// internal/database's pool/migrator.
package eventstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisflow/aegis/internal/bus"
	"github.com/aegisflow/aegis/internal/chain"
	"github.com/aegisflow/aegis/internal/store"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/util"
)

// Event is one immutable, hash-chained record in an incident's log.
type Event struct {
	IncidentID    string         `db:"incident_id" json:"incident_id"`
	Sequence      uint64         `db:"sequence_number" json:"sequence_number"`
	EventType     string         `db:"event_type" json:"event_type"`
	Payload       map[string]any `db:"payload" json:"payload"`
	Timestamp     time.Time      `db:"timestamp" json:"timestamp"`
	IntegrityHash string         `db:"integrity_hash" json:"integrity_hash"`
	PreviousHash  string         `db:"previous_hash" json:"previous_hash"`
	PartitionKey  string         `db:"partition_key" json:"partition_key"`
	TTL           int64          `db:"ttl" json:"ttl"`
}

// TopicStream is the bus topic every committed event is republished
// onto, so Stream's subscribers never poll Postgres.
const TopicStream = "eventstore.stream"

// AppendObserver is the narrow metrics sink Append reports its latency
// to; satisfied as-is by *metrics.Metrics without this package
// importing internal/metrics.
type AppendObserver interface {
	ObserveAppend(store string, d time.Duration)
}

// Store is the Postgres-backed event store.
type Store struct {
	store.BaseStore
	bus                  *bus.MessageBus
	replicas             ReplicaWriter
	observer             AppendObserver
	maxAppendRetries     int
	retentionDays        int
	replicationTimeoutMS int
	regions              []string
}

// SetAppendObserver wires a metrics sink for append latency. Left nil,
// Append simply doesn't report timing.
func (s *Store) SetAppendObserver(o AppendObserver) { s.observer = o }

// New builds a Store. regions lists the replica regions asynchronous
// replication fans out to (§4.1's "schedules asynchronous replication
// to N replica regions"). Call SetReplicaWriter to wire the replica
// storage implementation; replication is a no-op until then.
func New(pool *pgxpool.Pool, b *bus.MessageBus, maxAppendRetries, retentionDays, replicationTimeoutMS int, regions []string) *Store {
	return &Store{
		BaseStore:            store.NewBaseStore(pool),
		bus:                  b,
		maxAppendRetries:     maxAppendRetries,
		retentionDays:        retentionDays,
		replicationTimeoutMS: replicationTimeoutMS,
		regions:              regions,
	}
}

// partitionKey distributes events across partitions by hashing
// incident_id, the same composite-key scheme the original Python
// DynamoDB-backed store used to avoid hot partitions.
func partitionKey(incidentID string) string {
	sum := md5.Sum([]byte(incidentID))
	return fmt.Sprintf("incident_%s_%s", hex.EncodeToString(sum[:])[:2], incidentID)
}

// Append writes a new event at expectedVersion+1, retrying on a
// detected stale read up to maxAppendRetries before surfacing
// KindOptimisticLock. Preconditions: event carries only EventType,
// Payload, Timestamp — Sequence/IntegrityHash/PreviousHash/
// PartitionKey/TTL are computed here.
func (s *Store) Append(ctx context.Context, incidentID string, eventType string, payload map[string]any, expectedVersion uint64) (*Event, error) {
	if s.observer != nil {
		start := time.Now()
		defer func() { s.observer.ObserveAppend("eventstore", time.Since(start)) }()
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxAppendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(util.Backoff(attempt, 10*time.Millisecond, 500*time.Millisecond))
		}

		ev, err := s.tryAppend(ctx, incidentID, eventType, payload, expectedVersion)
		if err == nil {
			return ev, nil
		}
		if aerrors.KindOf(err) != aerrors.KindOptimisticLock {
			return nil, err
		}
		lastErr = err

		current, verErr := s.CurrentVersion(ctx, incidentID)
		if verErr != nil {
			return nil, verErr
		}
		if current != expectedVersion {
			// The version moved out from under us for a reason other than
			// our own retry target; no amount of retrying this expected
			// version will succeed.
			break
		}
	}
	return nil, lastErr
}

func (s *Store) tryAppend(ctx context.Context, incidentID, eventType string, payload map[string]any, expectedVersion uint64) (*Event, error) {
	tx, err := s.Pool().Begin(ctx)
	if err != nil {
		return nil, aerrors.Wrap(err, "eventstore.Append", aerrors.KindStorageUnavailable, "begin tx failed")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prevHash := chain.ZeroHash
	if expectedVersion > 0 {
		row := tx.QueryRow(ctx,
			`SELECT integrity_hash FROM events WHERE incident_id = $1 AND sequence_number = $2`,
			incidentID, expectedVersion)
		if err := row.Scan(&prevHash); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, aerrors.New("eventstore.Append", aerrors.KindOptimisticLock, "expected version not found")
			}
			return nil, aerrors.Wrap(err, "eventstore.Append", aerrors.KindStorageUnavailable, "read previous hash failed")
		}
	}

	newSeq := expectedVersion + 1
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	integrityHash, err := chain.IntegrityHash(incidentID, eventType, payload, ts)
	if err != nil {
		return nil, aerrors.Wrap(err, "eventstore.Append", aerrors.KindInternal, "hash computation failed")
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO incident_versions (incident_id, version)
		 VALUES ($1, $2)
		 ON CONFLICT (incident_id) DO UPDATE
		   SET version = EXCLUDED.version
		   WHERE incident_versions.version = $3`,
		incidentID, newSeq, expectedVersion)
	if err != nil {
		return nil, aerrors.Wrap(err, "eventstore.Append", aerrors.KindStorageUnavailable, "version bump failed")
	}
	if tag.RowsAffected() == 0 {
		return nil, aerrors.New("eventstore.Append", aerrors.KindOptimisticLock, "version conflict")
	}

	pk := partitionKey(incidentID)
	ttl := now.AddDate(0, 0, s.retentionDays).Unix()

	_, err = tx.Exec(ctx,
		`INSERT INTO events
		    (incident_id, sequence_number, event_type, payload, timestamp,
		     integrity_hash, previous_hash, partition_key, ttl)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		incidentID, newSeq, eventType, store.MustMarshalJSON(payload), now,
		integrityHash, prevHash, pk, ttl)
	if err != nil {
		return nil, aerrors.Wrap(err, "eventstore.Append", aerrors.KindStorageUnavailable, "event insert failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, aerrors.Wrap(err, "eventstore.Append", aerrors.KindStorageUnavailable, "commit failed")
	}

	ev := &Event{
		IncidentID:    incidentID,
		Sequence:      newSeq,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     now,
		IntegrityHash: integrityHash,
		PreviousHash:  prevHash,
		PartitionKey:  pk,
		TTL:           ttl,
	}

	s.publish(ev)
	s.scheduleReplication(ev)

	return ev, nil
}

func (s *Store) publish(ev *Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Envelope{
		Topic:   TopicStream,
		From:    "eventstore",
		To:      bus.TopicAll,
		Type:    bus.MsgStatusUpdate,
		Payload: store.MustMarshalJSON(ev),
	})
}

// GetEvents returns the incident's events from fromSequence (inclusive)
// onward, in ascending order.
func (s *Store) GetEvents(ctx context.Context, incidentID string, fromSequence uint64) ([]Event, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT incident_id, sequence_number, event_type, payload, timestamp,
		        integrity_hash, previous_hash, partition_key, ttl
		 FROM events
		 WHERE incident_id = $1 AND sequence_number >= $2
		 ORDER BY sequence_number ASC`,
		incidentID, fromSequence)
	if err != nil {
		return nil, aerrors.Wrap(err, "eventstore.GetEvents", aerrors.KindStorageUnavailable, "query failed")
	}
	events, err := store.CollectRows[Event](rows)
	if err != nil {
		return nil, aerrors.Wrap(err, "eventstore.GetEvents", aerrors.KindStorageUnavailable, "scan failed")
	}
	return events, nil
}

// CurrentVersion returns the incident's last sequence number, or 0 if
// none exist.
func (s *Store) CurrentVersion(ctx context.Context, incidentID string) (uint64, error) {
	var version uint64
	err := s.Pool().QueryRow(ctx,
		`SELECT version FROM incident_versions WHERE incident_id = $1`, incidentID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, aerrors.Wrap(err, "eventstore.CurrentVersion", aerrors.KindStorageUnavailable, "query failed")
	}
	return version, nil
}
