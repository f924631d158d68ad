package eventstore

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Stream returns a channel of every event appended from now on (events
// before fromTimestamp are not backfilled — spec.md §4.1 describes this
// as a lazy, restartable sequence in commit order, and a caller that
// needs history calls GetEvents first). The returned cancel func must
// be called to release the underlying bus subscription.
func (s *Store) Stream(ctx context.Context) (<-chan Event, func(), error) {
	out := make(chan Event, 64)
	sub := s.bus.Subscribe(uuid.NewString(), TopicStream)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-sub.Ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(env.Payload, &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() { s.bus.Unsubscribe(sub.ID) }
	return out, cancel, nil
}
