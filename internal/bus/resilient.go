// resilient.go — resilient publisher: bus-first, DB-fallback.
//
// Every capability publishes through the bus; when the bus itself is
// unhealthy, publishing degrades to writing into the bus_pending table
// and a background loop replays it once the bus recovers. A full
// subscriber queue does not count as unhealthy: the bus drops that
// envelope for that subscriber and this path is not taken.
//
//	healthy:   Publish -> MessageBus -> real-time fan-out -> subscribers
//	unhealthy: Publish -> bus_pending table -> background poll -> replay
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FallbackStore is the degrade-to-storage interface implemented by the
// Postgres-backed bus_pending repository.
type FallbackStore interface {
	SavePending(ctx context.Context, msg Envelope) error
	LoadPending(ctx context.Context, limit int) ([]Envelope, error)
	DeletePending(ctx context.Context, seq int64) error
}

// ResilientPublisher wraps a MessageBus with a fallback guarantee:
//   - bus healthy:   Publish directly, no overhead
//   - bus unhealthy: write to FallbackStore
//   - background goroutine periodically scans pending envelopes and
//     replays them once the bus recovers
type ResilientPublisher struct {
	bus      *MessageBus
	fallback FallbackStore
	healthy  atomic.Bool
	pollInterval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewResilientPublisher creates a resilient publisher polling for
// recovered pending envelopes every pollInterval.
func NewResilientPublisher(bus *MessageBus, fallback FallbackStore, pollInterval time.Duration) *ResilientPublisher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	rp := &ResilientPublisher{
		bus:          bus,
		fallback:     fallback,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
	rp.healthy.Store(true)
	return rp
}

// Start launches the background recovery loop.
func (rp *ResilientPublisher) Start(ctx context.Context) {
	rp.wg.Add(1)
	go rp.recoveryLoop(ctx)
}

// Stop halts the background recovery loop and waits for it to exit.
func (rp *ResilientPublisher) Stop() {
	close(rp.stopCh)
	rp.wg.Wait()
}

// Publish publishes msg, degrading to the fallback store automatically.
func (rp *ResilientPublisher) Publish(msg Envelope) {
	if rp.healthy.Load() {
		if rp.tryPublish(msg) {
			return
		}
		rp.healthy.Store(false)
		slog.Warn("bus: marked unhealthy, switching to DB fallback")
	}

	rp.saveToDB(msg)
}

// SetHealthy forces the bus health flag (diagnostics/tests).
func (rp *ResilientPublisher) SetHealthy(healthy bool) {
	rp.healthy.Store(healthy)
}

// Healthy reports whether the bus is currently considered healthy.
func (rp *ResilientPublisher) Healthy() bool {
	return rp.healthy.Load()
}

// Bus returns the underlying MessageBus, for direct subscription.
func (rp *ResilientPublisher) Bus() *MessageBus {
	return rp.bus
}

func (rp *ResilientPublisher) tryPublish(msg Envelope) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			slog.Error("bus: publish panicked", "error", r)
		}
	}()
	rp.bus.Publish(msg)
	return true
}

func (rp *ResilientPublisher) saveToDB(msg Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if err := rp.fallback.SavePending(ctx, msg); err != nil {
		slog.Error("bus: fallback save failed", "topic", msg.Topic, "error", err)
		return
	}
	slog.Info("bus: message saved to DB fallback", "topic", msg.Topic)
}

func (rp *ResilientPublisher) recoveryLoop(ctx context.Context) {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.recoverPending(ctx)
		}
	}
}

func (rp *ResilientPublisher) recoverPending(ctx context.Context) {
	msgs, err := rp.fallback.LoadPending(ctx, 100)
	if err != nil {
		slog.Warn("bus: load pending failed", "error", err)
		return
	}
	if len(msgs) == 0 {
		if !rp.healthy.Load() {
			rp.healthy.Store(true)
			slog.Info("bus: recovered, marked healthy")
		}
		return
	}

	for _, msg := range msgs {
		if !rp.tryPublish(msg) {
			return // bus still down, try again next tick
		}
		if err := rp.fallback.DeletePending(ctx, msg.Seq); err != nil {
			slog.Error("bus: delete pending failed", "seq", msg.Seq, "error", err)
		}
	}

	slog.Info("bus: replayed pending messages", "count", len(msgs))
}

// ========================================
// Generic publish helpers
// ========================================

// PublishTo publishes a system-originated envelope to topicPrefix.id.
//
//	rp.PublishTo(TopicConsensus, roundID, MsgPrePrepare, prePreparePayload)
//	rp.PublishTo(TopicIncident, incidentID, MsgActionExecute, actionPayload)
func (rp *ResilientPublisher) PublishTo(topicPrefix, id, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("bus: marshal payload failed", "topic", topicPrefix+"."+id, "error", err)
		return
	}
	rp.Publish(Envelope{
		Topic:   topicPrefix + "." + id,
		From:    "coordinator",
		Type:    msgType,
		Payload: data,
	})
}

// PublishFrom publishes an envelope attributed to a specific sender —
// used whenever the origin replica matters (consensus votes,
// heartbeats).
//
//	rp.PublishFrom(TopicConsensus, roundID, replicaID, MsgPrepare, votePayload)
func (rp *ResilientPublisher) PublishFrom(topicPrefix, id, from, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("bus: marshal payload failed", "topic", topicPrefix+"."+id, "error", err)
		return
	}
	rp.Publish(Envelope{
		Topic:   topicPrefix + "." + id,
		From:    from,
		Type:    msgType,
		Payload: data,
	})
}
