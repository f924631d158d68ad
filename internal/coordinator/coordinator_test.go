package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/consensus"
	"github.com/aegisflow/aegis/internal/eventstore"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// fakeEvents is an in-memory EventAppender recording every appended
// event in order, for assertions against spec.md §8's expected event
// sequences.
type fakeEvents struct {
	mu     sync.Mutex
	events []eventstore.Event
}

func (f *fakeEvents) Append(_ context.Context, incidentID, eventType string, payload map[string]any, expectedVersion uint64) (*eventstore.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := eventstore.Event{IncidentID: incidentID, EventType: eventType, Payload: payload, Sequence: expectedVersion + 1, Timestamp: time.Now()}
	f.events = append(f.events, ev)
	return &ev, nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventType
	}
	return out
}

// fakeDispatcher returns a canned Recommendation (or error) per agent
// type, regardless of incident content.
type fakeDispatcher struct {
	recs map[string]*agent.Recommendation
	errs map[string]error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, agentType string, incident agent.Incident) (*agent.Recommendation, error) {
	if err, ok := d.errs[agentType]; ok {
		return nil, err
	}
	rec := *d.recs[agentType]
	rec.IncidentID = incident.IncidentID
	return &rec, nil
}

// fakeConsensus decides the proposed action, or aborts the round when
// abort is set.
type fakeConsensus struct {
	abort bool
}

func (c *fakeConsensus) Decide(_ context.Context, proposal consensus.Proposal) (*consensus.Round, error) {
	if c.abort {
		return &consensus.Round{Phase: consensus.PhaseAborted}, nil
	}
	return &consensus.Round{Phase: consensus.PhaseDecided, View: 0, Sequence: 1, Digest: "d"}, nil
}

type fakeExecutor struct {
	fail bool
}

func (e *fakeExecutor) Execute(_ context.Context, action agent.Recommendation, lease *Lease) (string, error) {
	if lease == nil {
		return "", errors.New("expected a lease")
	}
	if e.fail {
		return "", errors.New("execution failed")
	}
	return "restarted", nil
}

type fakeEscalator struct {
	reasons []string
}

func (e *fakeEscalator) Escalate(_ context.Context, incidentID, reason string) error {
	e.reasons = append(e.reasons, reason)
	return nil
}

func newTestCoordinator(dispatch *fakeDispatcher, cd ConsensusDriver, exec ActionExecutor, esc *fakeEscalator) (*Coordinator, *fakeEvents) {
	ev := &fakeEvents{}
	cfg := Config{
		RequiredAgentTypes: []RequiredAgentType{{AgentType: "detection", Required: true}},
		PerAgentTimeout:    time.Second,
		ConsensusTimeout:   time.Second,
		MaxRollbackRounds:  2,
	}
	return New(ev, dispatch, cd, exec, esc, NewBackpressure(4), cfg), ev
}

func TestHandleIncident_HappyPath(t *testing.T) {
	dispatch := &fakeDispatcher{recs: map[string]*agent.Recommendation{
		"detection": {ActionID: "a1", ActionType: "restart_service", Confidence: 0.9, RiskLevel: agent.RiskMedium},
	}}
	c, events := newTestCoordinator(dispatch, &fakeConsensus{}, &fakeExecutor{}, &fakeEscalator{})

	snap, err := c.HandleIncident(context.Background(), agent.Incident{IncidentID: "inc-1", Severity: agent.SeverityHigh})
	if err != nil {
		t.Fatalf("HandleIncident: %v", err)
	}
	if snap.State != StateResolved || snap.Status != agent.IncidentResolved {
		t.Errorf("expected resolved, got state=%s status=%s", snap.State, snap.Status)
	}

	want := []string{EventCreated, EventRecommendation, EventConsensusDecided, EventActionStarted, EventActionSucceeded, EventResolved}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHandleIncident_RequiredAgentExhaustsFallback_Escalates(t *testing.T) {
	dispatch := &fakeDispatcher{
		recs: map[string]*agent.Recommendation{},
		errs: map[string]error{"detection": aerrors.New("test", aerrors.KindAllFallbacksExhausted, "no healthy replicas")},
	}
	esc := &fakeEscalator{}
	c, events := newTestCoordinator(dispatch, &fakeConsensus{}, &fakeExecutor{}, esc)

	snap, err := c.HandleIncident(context.Background(), agent.Incident{IncidentID: "inc-2", Severity: agent.SeverityHigh})
	if err == nil {
		t.Fatal("expected an error")
	}
	if snap.State != StateEscalated {
		t.Errorf("expected escalated, got %s", snap.State)
	}
	if len(esc.reasons) != 1 {
		t.Errorf("expected exactly one escalation, got %d", len(esc.reasons))
	}
	types := events.types()
	if types[len(types)-1] != EventEscalated {
		t.Errorf("expected final event ESCALATED, got %s", types[len(types)-1])
	}
}

func TestHandleIncident_ConsensusAborted_Escalates(t *testing.T) {
	dispatch := &fakeDispatcher{recs: map[string]*agent.Recommendation{
		"detection": {ActionID: "a1", ActionType: "scale_out", Confidence: 0.8, RiskLevel: agent.RiskLow},
	}}
	c, _ := newTestCoordinator(dispatch, &fakeConsensus{abort: true}, &fakeExecutor{}, &fakeEscalator{})

	snap, err := c.HandleIncident(context.Background(), agent.Incident{IncidentID: "inc-3", Severity: agent.SeverityMedium})
	if err != nil {
		t.Fatalf("expected no hard error on handled abort, got %v", err)
	}
	if snap.State != StateEscalated {
		t.Errorf("expected escalated after aborted consensus, got %s", snap.State)
	}
}

func TestHandleIncident_ActionFails_RetriesThenEscalatesWhenExhausted(t *testing.T) {
	dispatch := &fakeDispatcher{recs: map[string]*agent.Recommendation{
		"detection": {ActionID: "a1", ActionType: "restart_service", Confidence: 0.9, RiskLevel: agent.RiskMedium},
	}}
	c, _ := newTestCoordinator(dispatch, &fakeConsensus{}, &fakeExecutor{fail: true}, &fakeEscalator{})

	snap, err := c.HandleIncident(context.Background(), agent.Incident{IncidentID: "inc-4", Severity: agent.SeverityHigh})
	if err == nil {
		t.Fatal("expected an error once the only candidate action fails")
	}
	if snap.State != StateEscalated {
		t.Errorf("expected escalated, got %s", snap.State)
	}
}

func TestCanAdvance_RejectsSkippingStates(t *testing.T) {
	if canAdvance(StateNew, StateConsensus) {
		t.Error("expected NEW -> CONSENSUS to be disallowed")
	}
	if !canAdvance(StateNew, StateDispatched) {
		t.Error("expected NEW -> DISPATCHED to be allowed")
	}
}

func TestBackpressure_RejectsOverCapacityWithTimeout(t *testing.T) {
	b := NewBackpressure(1)
	release, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Acquire(ctx); aerrors.KindOf(err) != aerrors.KindOverload {
		t.Errorf("expected KindOverload, got %v", err)
	}
}

func TestLeaseManager_SecondAcquireWaitsForRelease(t *testing.T) {
	m := NewLeaseManager()
	l1 := m.Acquire("inc-5", "a1")

	done := make(chan struct{})
	go func() {
		l2 := m.Acquire("inc-5", "a1")
		l2.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should have blocked while first lease is held")
	case <-time.After(20 * time.Millisecond):
	}

	l1.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestDefaultScorer_PrefersHigherComposite(t *testing.T) {
	s := DefaultScorer{}
	incident := agent.Incident{Severity: agent.SeverityCritical}
	recs := []agent.Recommendation{
		{ActionID: "low-conf", ActionType: "noop", Confidence: 0.2, RiskLevel: agent.RiskCritical},
		{ActionID: "high-conf", ActionType: "restart_service", Confidence: 0.95, RiskLevel: agent.RiskHigh},
	}
	best := s.Best(incident, recs)
	if best == nil || best.ActionID != "high-conf" {
		t.Errorf("expected high-conf to win, got %+v", best)
	}
}

func TestDefaultScorer_TieBreaksByActionID(t *testing.T) {
	s := DefaultScorer{}
	incident := agent.Incident{Severity: agent.SeverityMedium}
	recs := []agent.Recommendation{
		{ActionID: "b-action", ActionType: "x", Confidence: 0.5, RiskLevel: agent.RiskMedium},
		{ActionID: "a-action", ActionType: "x", Confidence: 0.5, RiskLevel: agent.RiskMedium},
	}
	best := s.Best(incident, recs)
	if best.ActionID != "a-action" {
		t.Errorf("expected lexicographically-first action_id to win a tie, got %s", best.ActionID)
	}
}
