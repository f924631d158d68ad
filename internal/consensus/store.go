package consensus

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisflow/aegis/internal/store"
	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

// RoundRecord is one row of a dumped round, for the `aegisctl consensus
// dump` diagnostic command.
type RoundRecord struct {
	View       int64     `db:"view" json:"view"`
	Sequence   int64     `db:"sequence_number" json:"sequence_number"`
	IncidentID string    `db:"incident_id" json:"incident_id"`
	ActionID   string    `db:"action_id" json:"action_id"`
	Digest     string    `db:"digest" json:"digest"`
	Phase      string    `db:"phase" json:"phase"`
	Decided    bool      `db:"decided" json:"decided"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	DecidedAt  time.Time `db:"decided_at" json:"decided_at"`
}

// Store persists suspicion events and round/vote history for the
// `aegisctl consensus dump` diagnostic command. It is a SuspicionSink,
// wired into an Engine via SetSuspicionSink; failures to persist never
// block the protocol — they're logged and dropped, the same
// best-effort posture the event store's replication uses.
type Store struct {
	store.BaseStore
}

// NewStore builds a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{store.NewBaseStore(pool)}
}

// RecordSuspicion implements SuspicionSink.
func (s *Store) RecordSuspicion(ev SuspicionEvent) {
	util.SafeGo(func() {
		pool := s.Pool()
		if pool == nil {
			return
		}
		_, err := pool.Exec(context.Background(),
			`INSERT INTO suspicion_events (peer_id, reason, view, sequence_number, timestamp)
			 VALUES ($1, $2, $3, $4, $5)`,
			ev.PeerID, ev.Reason, ev.View, ev.Sequence, ev.Timestamp)
		if err != nil {
			logger.Warnw("failed to persist suspicion event",
				logger.FieldNodeID, ev.PeerID, logger.FieldError, err)
		}
	})
}

// RecordRound upserts a round's current phase/digest, for the dump
// command and for crash recovery of in-flight rounds.
func (s *Store) RecordRound(ctx context.Context, incidentID, actionID string, r *Round) error {
	pool := s.Pool()
	if pool == nil {
		return nil
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO consensus_rounds (view, sequence_number, incident_id, action_id, digest, phase, decided, started_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '0001-01-01 00:00:00+00'::timestamptz))
		 ON CONFLICT (view, sequence_number) DO UPDATE SET
		   phase = EXCLUDED.phase,
		   decided = EXCLUDED.decided,
		   decided_at = COALESCE(consensus_rounds.decided_at, EXCLUDED.decided_at)`,
		r.View, r.Sequence, incidentID, actionID, r.Digest, string(r.Phase), r.Decided, r.StartTime, r.Deadline)
	return err
}

// DumpRounds returns the most recent rounds, newest first, optionally
// filtered to one incident — the read side of the diagnostic table
// RecordRound writes.
func (s *Store) DumpRounds(ctx context.Context, incidentID string, limit int) ([]RoundRecord, error) {
	qb := store.NewQueryBuilder().Eq("incident_id", incidentID)
	sql, params := qb.Build(
		`SELECT view, sequence_number, incident_id, action_id, digest, phase, decided, started_at,
		        COALESCE(decided_at, '0001-01-01 00:00:00+00'::timestamptz) AS decided_at
		 FROM consensus_rounds`,
		"started_at DESC", limit)

	rows, err := s.Pool().Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	return store.CollectRows[RoundRecord](rows)
}

// RecordVote persists one PREPARE/COMMIT vote for audit purposes.
func (s *Store) RecordVote(ctx context.Context, kind MessageType, msg ConsensusMessage) error {
	pool := s.Pool()
	if pool == nil {
		return nil
	}
	table := "consensus_prepare_votes"
	if kind == MsgCommit {
		table = "consensus_commit_votes"
	}
	_, err := pool.Exec(ctx,
		"INSERT INTO "+table+" (view, sequence_number, sender_id, digest, received_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING",
		msg.View, msg.Sequence, msg.SenderID, msg.Digest, msg.Timestamp)
	return err
}
