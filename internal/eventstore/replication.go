package eventstore

import (
	"context"
	"time"

	"github.com/aegisflow/aegis/internal/store"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

var errNoReplicaWriter = aerrors.New("eventstore.RepairFromReplica", aerrors.KindStorageUnavailable, "no replica writer configured")

// ReplicaWriter is the external object/stream-storage boundary (§6)
// replication tasks are scheduled against. A production implementation
// copies the event into the named region's store; test doubles can
// simulate failure.
type ReplicaWriter interface {
	WriteEvent(ctx context.Context, region string, ev Event) error
	ReadEvents(ctx context.Context, region, incidentID string) ([]Event, error)
}

// SetReplicaWriter wires the external replica-storage implementation.
// Left nil, replication and repair are no-ops — acceptable for a
// single-region deployment.
func (s *Store) SetReplicaWriter(w ReplicaWriter) { s.replicas = w }

// scheduleReplication fires one asynchronous replication attempt per
// configured region. Replication is best-effort: failures are recorded
// in replication_status and logged, never surfaced to the append
// caller — per spec.md §4.1, "the primary does not roll back."
func (s *Store) scheduleReplication(ev *Event) {
	if s.replicas == nil || len(s.regions) == 0 {
		return
	}
	for _, region := range s.regions {
		region := region
		util.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.replicationTimeout())
			defer cancel()

			err := s.replicas.WriteEvent(ctx, region, *ev)
			s.recordReplicationStatus(context.Background(), ev.IncidentID, ev.Sequence, region, err)
			if err != nil {
				logger.Warnw("event replication failed",
					logger.FieldIncidentID, ev.IncidentID,
					logger.FieldSequenceNumber, ev.Sequence,
					logger.FieldRegion, region,
					logger.FieldError, err)
			}
		})
	}
}

func (s *Store) replicationTimeout() time.Duration {
	if s.replicationTimeoutMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.replicationTimeoutMS) * time.Millisecond
}

func (s *Store) recordReplicationStatus(ctx context.Context, incidentID string, sequence uint64, region string, replErr error) {
	status := "ok"
	errMsg := ""
	if replErr != nil {
		status = "failed"
		errMsg = replErr.Error()
	}
	_, err := s.Pool().Exec(ctx,
		`INSERT INTO replication_status
		    (incident_id, sequence_number, region, status, error, attempted_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		incidentID, sequence, region, status, errMsg, time.Now().UTC())
	if err != nil {
		logger.Warnw("failed to record replication status",
			logger.FieldIncidentID, incidentID, logger.FieldError, err)
	}
}

// RepairFromReplica copies the authoritative chain from the named
// replica region into the primary, overwriting any divergent local
// events for this incident. Used after VerifyIntegrity or
// DetectCorruption finds a broken chain.
func (s *Store) RepairFromReplica(ctx context.Context, incidentID, region string) error {
	if s.replicas == nil {
		return errNoReplicaWriter
	}
	events, err := s.replicas.ReadEvents(ctx, region, incidentID)
	if err != nil {
		return err
	}

	tx, err := s.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE incident_id = $1`, incidentID); err != nil {
		return err
	}

	var lastSeq uint64
	for _, ev := range events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO events
			    (incident_id, sequence_number, event_type, payload, timestamp,
			     integrity_hash, previous_hash, partition_key, ttl)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			ev.IncidentID, ev.Sequence, ev.EventType, store.MustMarshalJSON(ev.Payload), ev.Timestamp,
			ev.IntegrityHash, ev.PreviousHash, ev.PartitionKey, ev.TTL); err != nil {
			return err
		}
		lastSeq = ev.Sequence
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO incident_versions (incident_id, version) VALUES ($1,$2)
		 ON CONFLICT (incident_id) DO UPDATE SET version = EXCLUDED.version`,
		incidentID, lastSeq); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
