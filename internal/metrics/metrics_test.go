package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_ObserveAppendAndScrape(t *testing.T) {
	m, err := New("aegis_test_append")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ObserveAppend("eventstore", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "aegis_test_append_append_seconds") {
		t.Fatalf("expected append_seconds series in scrape output, got: %s", body)
	}
	if !strings.Contains(body, `store="eventstore"`) {
		t.Fatalf("expected store label in scrape output, got: %s", body)
	}
}

func TestMetrics_ObserveConsensusRound(t *testing.T) {
	m, err := New("aegis_test_round")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ObserveConsensusRound(10 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "aegis_test_round_consensus_round_seconds") {
		t.Fatalf("expected consensus_round_seconds series, got: %s", rec.Body.String())
	}
}

type fakeBackpressure struct {
	waiting, inFlight int
}

func (f fakeBackpressure) Waiting() int  { return f.waiting }
func (f fakeBackpressure) InFlight() int { return f.inFlight }

func TestMetrics_PollBackpressure(t *testing.T) {
	m, err := New("aegis_test_queue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.PollBackpressure("coordinator", fakeBackpressure{waiting: 3, inFlight: 2})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `component="coordinator",kind="waiting"} 3`) {
		t.Fatalf("expected waiting gauge set to 3, got: %s", body)
	}
	if !strings.Contains(body, `component="coordinator",kind="in_flight"} 2`) {
		t.Fatalf("expected in_flight gauge set to 2, got: %s", body)
	}
}

func TestMetrics_StartBackpressurePollerStopsOnCancel(t *testing.T) {
	m, err := New("aegis_test_poller")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.StartBackpressurePoller(ctx, "coordinator", fakeBackpressure{waiting: 1, inFlight: 1}, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond) // let the goroutine observe cancellation

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `component="coordinator"`) {
		t.Fatal("expected at least one poll to have landed before cancellation")
	}
}
