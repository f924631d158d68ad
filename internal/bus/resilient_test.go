package bus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aegisflow/aegis/pkg/logger"
)

// captureLog redirects the default logger to a buffer and returns a
// restore function.
func captureLog(t *testing.T) (*bytes.Buffer, func()) {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.Get()
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger.SetForTest(slog.New(h))
	return &buf, func() { logger.SetForTest(prev) }
}

// errStore is a FallbackStore mock whose LoadPending always fails.
type errStore struct{}

func (errStore) SavePending(_ context.Context, _ Envelope) error { return nil }
func (errStore) LoadPending(_ context.Context, _ int) ([]Envelope, error) {
	return nil, errors.New("db connection lost")
}
func (errStore) DeletePending(_ context.Context, _ int64) error { return nil }

func TestRecoverPending_LoadError_LogsWarn(t *testing.T) {
	buf, restore := captureLog(t)
	defer restore()

	bus := NewMessageBus(64)
	rp := NewResilientPublisher(bus, errStore{}, time.Second)

	rp.recoverPending(context.Background())

	logOutput := buf.String()
	if !strings.Contains(logOutput, "load pending failed") {
		t.Fatalf("expected 'load pending failed' in log, got:\n%s", logOutput)
	}
}

func TestPublishTo_DeliversCorrectTopicAndFrom(t *testing.T) {
	bus := NewMessageBus(64)
	sub := bus.Subscribe("test-sub", "*")
	rp := NewResilientPublisher(bus, errStore{}, time.Second)

	type payload struct {
		Key string `json:"key"`
	}
	rp.PublishTo(TopicIncident, "inc-1", MsgIncidentDispatch, payload{Key: "v1"})

	select {
	case msg := <-sub.Ch:
		if msg.Topic != "incident.inc-1" {
			t.Errorf("topic = %q, want %q", msg.Topic, "incident.inc-1")
		}
		if msg.From != "coordinator" {
			t.Errorf("from = %q, want %q", msg.From, "coordinator")
		}
		if msg.Type != MsgIncidentDispatch {
			t.Errorf("type = %q, want %q", msg.Type, MsgIncidentDispatch)
		}
	case <-timeoutCh():
		t.Fatal("timeout waiting for PublishTo message")
	}
}

func TestPublishFrom_DeliversCorrectFrom(t *testing.T) {
	bus := NewMessageBus(64)
	sub := bus.Subscribe("test-sub", "*")
	rp := NewResilientPublisher(bus, errStore{}, time.Second)

	rp.PublishFrom(TopicConsensus, "round-1", "replica-007", MsgPrepare, map[string]string{"vote": "accept"})

	select {
	case msg := <-sub.Ch:
		if msg.Topic != "consensus.round-1" {
			t.Errorf("topic = %q, want %q", msg.Topic, "consensus.round-1")
		}
		if msg.From != "replica-007" {
			t.Errorf("from = %q, want %q", msg.From, "replica-007")
		}
		if msg.Type != MsgPrepare {
			t.Errorf("type = %q, want %q", msg.Type, MsgPrepare)
		}
	case <-timeoutCh():
		t.Fatal("timeout waiting for PublishFrom message")
	}
}

func TestPublishTo_NilPayload_DoesNotPanic(t *testing.T) {
	bus := NewMessageBus(64)
	sub := bus.Subscribe("test-sub", "*")
	rp := NewResilientPublisher(bus, errStore{}, time.Second)

	rp.PublishTo(TopicHeartbeat, "replica-1", MsgHeartbeat, nil)

	select {
	case msg := <-sub.Ch:
		if msg.Topic != "heartbeat.replica-1" {
			t.Errorf("topic = %q, want %q", msg.Topic, "heartbeat.replica-1")
		}
	case <-timeoutCh():
		t.Fatal("timeout waiting for nil payload message")
	}
}

func timeoutCh() <-chan time.Time {
	return time.After(200 * time.Millisecond)
}
