package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegisflow/aegis/internal/store"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
)

// ArchiveResult summarizes one archive run.
type ArchiveResult struct {
	Streams     []string
	EventsMoved int
	ObjectKeys  []string
}

// Archive moves every event timestamped before cutoff out of the live
// audit_events table and into objectStore, one object per stream,
// keyed "audit/<stream>/<cutoff-unix>.json". It deletes a stream's
// archived rows only after the object write for that stream succeeds,
// so a write failure midway through leaves the live table untouched
// for the streams not yet processed.
func (s *Store) Archive(ctx context.Context, cutoff time.Time, objectStore ObjectStore) (ArchiveResult, error) {
	streams, err := s.streamsWithOldEvents(ctx, cutoff)
	if err != nil {
		return ArchiveResult{}, err
	}

	var result ArchiveResult
	for _, streamName := range streams {
		events, err := s.eventsBefore(ctx, streamName, cutoff)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			continue
		}

		blob, err := json.Marshal(events)
		if err != nil {
			return result, aerrors.Wrap(err, "audit.Archive", aerrors.KindInternal, "marshal archive batch failed")
		}
		key := fmt.Sprintf("audit/%s/%d.json", streamName, cutoff.Unix())
		if err := objectStore.PutObject(ctx, key, blob); err != nil {
			return result, aerrors.Wrap(err, "audit.Archive", aerrors.KindStorageUnavailable, "object write failed")
		}

		lastSeq := events[len(events)-1].Sequence
		if err := s.deleteThroughSequence(ctx, streamName, lastSeq); err != nil {
			return result, err
		}

		logger.Infow("audit stream archived",
			"stream", streamName, "events", len(events), "object_key", key)

		result.Streams = append(result.Streams, streamName)
		result.EventsMoved += len(events)
		result.ObjectKeys = append(result.ObjectKeys, key)
	}
	return result, nil
}

func (s *Store) streamsWithOldEvents(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT DISTINCT stream FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return nil, aerrors.Wrap(err, "audit.Archive", aerrors.KindStorageUnavailable, "query streams failed")
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var streamName string
		if err := rows.Scan(&streamName); err != nil {
			return nil, aerrors.Wrap(err, "audit.Archive", aerrors.KindStorageUnavailable, "scan failed")
		}
		streams = append(streams, streamName)
	}
	return streams, rows.Err()
}

func (s *Store) eventsBefore(ctx context.Context, streamName string, cutoff time.Time) ([]Event, error) {
	rows, err := s.Pool().Query(ctx,
		`SELECT stream, sequence_number, action, actor, target, result, level, detail, timestamp,
		        integrity_hash, previous_hash
		 FROM audit_events
		 WHERE stream = $1 AND timestamp < $2
		 ORDER BY sequence_number ASC`,
		streamName, cutoff)
	if err != nil {
		return nil, aerrors.Wrap(err, "audit.Archive", aerrors.KindStorageUnavailable, "query events failed")
	}
	return store.CollectRows[Event](rows)
}

func (s *Store) deleteThroughSequence(ctx context.Context, streamName string, throughSeq uint64) error {
	_, err := s.Pool().Exec(ctx,
		`DELETE FROM audit_events WHERE stream = $1 AND sequence_number <= $2`,
		streamName, throughSeq)
	if err != nil {
		return aerrors.Wrap(err, "audit.Archive", aerrors.KindStorageUnavailable, "delete archived rows failed")
	}
	return nil
}
