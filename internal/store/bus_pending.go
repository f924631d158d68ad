// bus_pending.go is the Postgres-backed bus.FallbackStore: when the
// Message Bus degrades, ResilientPublisher writes envelopes here
// instead of dropping them, and replays them once the bus recovers.
// Generalized from the teacher's BusPendingStore, whose Save/LoadOldest/
// Delete/Count shape this keeps, retargeted at bus.Envelope instead of
// four loose topic/from/to/type columns plus a raw payload.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisflow/aegis/internal/bus"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// BusPendingMessage is one row of the bus_pending fallback table.
type BusPendingMessage struct {
	Seq       int64           `db:"seq" json:"seq"`
	Topic     string          `db:"topic" json:"topic"`
	FromID    string          `db:"from_id" json:"from_id"`
	ToID      string          `db:"to_id" json:"to_id"`
	MsgType   string          `db:"msg_type" json:"msg_type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Signature string          `db:"signature" json:"signature"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// BusPendingStore is the bus.FallbackStore implementation backing
// production deployments.
type BusPendingStore struct{ BaseStore }

// NewBusPendingStore builds a BusPendingStore.
func NewBusPendingStore(pool *pgxpool.Pool) *BusPendingStore {
	return &BusPendingStore{NewBaseStore(pool)}
}

// SavePending persists msg for later replay. msg.Seq and msg.Timestamp
// are ignored — the table assigns its own seq and created_at so
// replay order matches insertion order regardless of what the
// producer stamped on the envelope.
func (s *BusPendingStore) SavePending(ctx context.Context, msg bus.Envelope) error {
	_, err := s.Pool().Exec(ctx,
		`INSERT INTO bus_pending (topic, from_id, to_id, msg_type, payload, signature)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.Topic, msg.From, msg.To, msg.Type, []byte(msg.Payload), msg.Signature)
	if err != nil {
		return aerrors.Wrap(err, "store.SavePending", aerrors.KindStorageUnavailable, "insert failed")
	}
	return nil
}

// LoadPending returns the oldest limit pending envelopes.
func (s *BusPendingStore) LoadPending(ctx context.Context, limit int) ([]bus.Envelope, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT seq, topic, from_id, to_id, msg_type, payload, signature, created_at
		 FROM bus_pending ORDER BY seq ASC LIMIT $1`, limit)
	if err != nil {
		return nil, aerrors.Wrap(err, "store.LoadPending", aerrors.KindStorageUnavailable, "query failed")
	}
	rawRows, err := CollectRows[BusPendingMessage](rows)
	if err != nil {
		return nil, aerrors.Wrap(err, "store.LoadPending", aerrors.KindStorageUnavailable, "scan failed")
	}
	envelopes := make([]bus.Envelope, len(rawRows))
	for i, r := range rawRows {
		envelopes[i] = bus.Envelope{
			Topic: r.Topic, From: r.FromID, To: r.ToID, Type: r.MsgType,
			Payload: r.Payload, Signature: r.Signature, Timestamp: r.CreatedAt, Seq: r.Seq,
		}
	}
	return envelopes, nil
}

// DeletePending removes a replayed (or no-longer-needed) envelope by
// its bus_pending row sequence.
func (s *BusPendingStore) DeletePending(ctx context.Context, seq int64) error {
	_, err := s.Pool().Exec(ctx, `DELETE FROM bus_pending WHERE seq = $1`, seq)
	if err != nil {
		return aerrors.Wrap(err, "store.DeletePending", aerrors.KindStorageUnavailable, "delete failed")
	}
	return nil
}

// Count returns the number of envelopes currently queued for replay.
func (s *BusPendingStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM bus_pending`).Scan(&count)
	if err != nil {
		return 0, aerrors.Wrap(err, "store.Count", aerrors.KindStorageUnavailable, "count failed")
	}
	return count, nil
}
