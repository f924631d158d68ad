package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisflow/aegis/internal/chain"
	"github.com/aegisflow/aegis/internal/store"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/util"
)

// StreamSystem is the chain every cluster-wide action (view changes,
// certificate revocation, recovery escalation) appends to when it
// isn't scoped to a single incident.
const StreamSystem = "system"

// AppendObserver is the narrow metrics sink Append reports its
// latency to; satisfied as-is by *metrics.Metrics without this package
// importing internal/metrics.
type AppendObserver interface {
	ObserveAppend(store string, d time.Duration)
}

// Store is the Postgres-backed, hash-chained audit log.
type Store struct {
	store.BaseStore
	observer AppendObserver
}

// New builds a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{BaseStore: store.NewBaseStore(pool)}
}

// SetAppendObserver wires a metrics sink for append latency. Left nil,
// Append simply doesn't report timing.
func (s *Store) SetAppendObserver(o AppendObserver) { s.observer = o }

// Append writes the next event in stream's chain, computing its
// sequence number and hash under the same optimistic pattern
// eventstore.Store.tryAppend uses: read the prior link, compute this
// one's hash, insert guarded by a unique (stream, sequence_number).
// Concurrent appenders to the same stream retry; audit streams are
// low-contention enough that a single retry almost always succeeds.
func (s *Store) Append(ctx context.Context, streamName, action, actor, target, result, level string, detail map[string]any) (*Event, error) {
	if s.observer != nil {
		start := time.Now()
		defer func() { s.observer.ObserveAppend("audit", time.Since(start)) }()
	}

	const maxRetries = 5
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		ev, err := s.tryAppend(ctx, streamName, action, actor, target, result, level, detail)
		if err == nil {
			return ev, nil
		}
		if aerrors.KindOf(err) != aerrors.KindOptimisticLock {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) tryAppend(ctx context.Context, streamName, action, actor, target, result, level string, detail map[string]any) (*Event, error) {
	tx, err := s.Pool().Begin(ctx)
	if err != nil {
		return nil, aerrors.Wrap(err, "audit.Append", aerrors.KindStorageUnavailable, "begin tx failed")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lastSeq uint64
	prevHash := chain.ZeroHash
	row := tx.QueryRow(ctx,
		`SELECT sequence_number, integrity_hash FROM audit_events
		 WHERE stream = $1 ORDER BY sequence_number DESC LIMIT 1`,
		streamName)
	switch err := row.Scan(&lastSeq, &prevHash); {
	case err == nil:
		// chain continues from lastSeq/prevHash.
	case errors.Is(err, pgx.ErrNoRows):
		lastSeq, prevHash = 0, chain.ZeroHash
	default:
		return nil, aerrors.Wrap(err, "audit.Append", aerrors.KindStorageUnavailable, "read chain tail failed")
	}

	newSeq := lastSeq + 1
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	if detail == nil {
		detail = map[string]any{}
	}
	payload := map[string]any{
		"action": action, "actor": actor, "target": target, "result": result, "detail": detail,
	}
	integrityHash, err := chain.IntegrityHash(streamName, action, payload, ts)
	if err != nil {
		return nil, aerrors.Wrap(err, "audit.Append", aerrors.KindInternal, "hash computation failed")
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO audit_events
		    (stream, sequence_number, action, actor, target, result, level, detail, timestamp,
		     integrity_hash, previous_hash)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11)
		 ON CONFLICT (stream, sequence_number) DO NOTHING`,
		streamName, newSeq, action, actor, target, result, level, store.MustMarshalJSON(detail), now,
		integrityHash, prevHash)
	if err != nil {
		return nil, aerrors.Wrap(err, "audit.Append", aerrors.KindStorageUnavailable, "insert failed")
	}
	if tag.RowsAffected() == 0 {
		return nil, aerrors.New("audit.Append", aerrors.KindOptimisticLock, "sequence number already taken")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, aerrors.Wrap(err, "audit.Append", aerrors.KindStorageUnavailable, "commit failed")
	}

	return &Event{
		Stream: streamName, Sequence: newSeq, Action: action, Actor: actor, Target: target,
		Result: result, Level: level, Detail: detail, Timestamp: now,
		IntegrityHash: integrityHash, PreviousHash: prevHash,
	}, nil
}

// List returns streamName's events from fromSequence (inclusive)
// onward, in ascending order — the chain-aware equivalent of the
// teacher's AuditLogStore.List keyword search, scoped to one stream
// since chain verification only makes sense within a single stream.
func (s *Store) List(ctx context.Context, streamName string, fromSequence uint64, limit int) ([]Event, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT stream, sequence_number, action, actor, target, result, level, detail, timestamp,
		        integrity_hash, previous_hash
		 FROM audit_events
		 WHERE stream = $1 AND sequence_number >= $2
		 ORDER BY sequence_number ASC
		 LIMIT $3`,
		streamName, fromSequence, util.ClampInt(limit, 1, 2000))
	if err != nil {
		return nil, aerrors.Wrap(err, "audit.List", aerrors.KindStorageUnavailable, "query failed")
	}
	return store.CollectRows[Event](rows)
}
