package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name      string
		component string
		kind      aerrors.Kind
		want      Severity
	}{
		{"byzantine always critical", "consensus", aerrors.KindByzantineDetected, SeverityCritical},
		{"agent timeout is high", "agent.detection", aerrors.KindAgentTimeout, SeverityHigh},
		{"agent circuit open is medium", "agent.resolution", aerrors.KindCircuitOpen, SeverityMedium},
		{"consensus component is high", "consensus.engine", aerrors.KindInternal, SeverityHigh},
		{"storage component is high", "eventstore.append", aerrors.KindStorageUnavailable, SeverityHigh},
		{"validation defaults low", "intake", aerrors.KindValidation, SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySeverity(tt.component, tt.kind); got != tt.want {
				t.Errorf("ClassifySeverity(%q, %v) = %v, want %v", tt.component, tt.kind, got, tt.want)
			}
		})
	}
}

func TestCorrelator_CorrelatesWithinWindow(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	clock := base
	c.now = func() time.Time { return clock }

	c.Record(ErrorContext{ErrorID: "e1", Timestamp: clock, Component: "agent.detection", ErrorType: "agent_timeout"})

	clock = base.Add(time.Minute)
	correlated := c.Record(ErrorContext{ErrorID: "e2", Timestamp: clock, Component: "agent.detection", ErrorType: "agent_timeout"})
	if len(correlated) != 1 || correlated[0] != "e1" {
		t.Fatalf("expected e2 to correlate with e1, got %v", correlated)
	}
}

func TestCorrelator_DoesNotCorrelateOutsideWindow(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	clock := base
	c.now = func() time.Time { return clock }

	c.Record(ErrorContext{ErrorID: "e1", Timestamp: clock, Component: "agent.detection", ErrorType: "agent_timeout"})

	clock = base.Add(6 * time.Minute)
	correlated := c.Record(ErrorContext{ErrorID: "e2", Timestamp: clock, Component: "agent.detection", ErrorType: "agent_timeout"})
	if len(correlated) != 0 {
		t.Fatalf("expected no correlation past the window, got %v", correlated)
	}
}

func TestCorrelator_RecentAgentFailures(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Record(ErrorContext{ErrorID: "a1", Timestamp: base, Component: "agent.detection", Severity: SeverityHigh})
	c.Record(ErrorContext{ErrorID: "a2", Timestamp: base, Component: "agent.diagnosis", Severity: SeverityCritical})
	c.Record(ErrorContext{ErrorID: "a3", Timestamp: base, Component: "agent.prediction", Severity: SeverityLow})
	c.Record(ErrorContext{ErrorID: "a4", Timestamp: base, Component: "eventstore", Severity: SeverityCritical})

	if got := c.RecentAgentFailures(); got != 2 {
		t.Errorf("expected 2 recent high/critical agent failures, got %d", got)
	}
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name string
		ec   ErrorContext
		corr int
		want Strategy
	}{
		{"critical always escalates", ErrorContext{Severity: SeverityCritical, Component: "anything"}, 0, StrategyHumanEscalation},
		{"agent timeout retries", ErrorContext{Severity: SeverityHigh, Component: "agent.detection", ErrorType: "agent_timeout"}, 0, StrategyRetry},
		{"agent non-timeout degrades", ErrorContext{Severity: SeverityMedium, Component: "agent.detection", ErrorType: "connection_refused"}, 0, StrategyGracefulDegradation},
		{"service retries", ErrorContext{Severity: SeverityMedium, Component: "service.llmgateway"}, 0, StrategyRetry},
		{"circuit breaker resets", ErrorContext{Severity: SeverityMedium, Component: "circuit_breaker.resolution"}, 0, StrategyCircuitBreakerReset},
		{"3+ correlations escalate", ErrorContext{Severity: SeverityLow, Component: "eventstore"}, 3, StrategyHumanEscalation},
		{"default degrades", ErrorContext{Severity: SeverityLow, Component: "eventstore"}, 1, StrategyGracefulDegradation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectStrategy(tt.ec, tt.corr); got != tt.want {
				t.Errorf("SelectStrategy() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeEscalator struct {
	mu      sync.Mutex
	fired   []string
	waiters map[string]chan struct{}
}

func newFakeEscalator() *fakeEscalator {
	return &fakeEscalator{waiters: make(map[string]chan struct{})}
}

func (f *fakeEscalator) await(triggerID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.waiters[triggerID] = ch
	return ch
}

func (f *fakeEscalator) Escalate(_ context.Context, _ ErrorContext, trigger EscalationTrigger) error {
	f.mu.Lock()
	f.fired = append(f.fired, trigger.TriggerID)
	ch, ok := f.waiters[trigger.TriggerID]
	f.mu.Unlock()
	if ok {
		close(ch)
	}
	return nil
}

func TestSystem_Handle_RetriesThenSucceeds(t *testing.T) {
	esc := newFakeEscalator()
	s := NewSystem(esc)

	attempts := 0
	s.RegisterAction(RecoveryAction{
		ActionID:    "service_retry",
		Strategy:    StrategyRetry,
		MaxAttempts: 3,
		Timeout:     time.Second,
		Run: func(_ context.Context, _ ErrorContext) (map[string]any, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("not yet")
			}
			return map[string]any{"status": "success"}, nil
		},
	})

	err := aerrors.New("llmgateway.Invoke", aerrors.KindAgentTimeout, "timed out")
	result := s.Handle(context.Background(), err, "service.llmgateway", nil, "", "inc-1")

	if !result.RecoverySucceeded || result.Attempts != 2 {
		t.Fatalf("expected success on 2nd attempt, got %+v", result)
	}
}

func TestSystem_Handle_FallsBackOnExhaustion(t *testing.T) {
	esc := newFakeEscalator()
	s := NewSystem(esc)

	s.RegisterAction(RecoveryAction{
		ActionID:    "agent_restart",
		Strategy:    StrategyRetry,
		MaxAttempts: 1,
		Timeout:     time.Second,
		Run: func(_ context.Context, _ ErrorContext) (map[string]any, error) {
			return nil, errors.New("restart failed")
		},
		FallbackAction: "graceful_degradation",
	})
	s.RegisterAction(RecoveryAction{
		ActionID:    "graceful_degradation",
		Strategy:    StrategyGracefulDegradation,
		MaxAttempts: 1,
		Timeout:     time.Second,
		Run: func(_ context.Context, _ ErrorContext) (map[string]any, error) {
			return map[string]any{"status": "success", "degraded": true}, nil
		},
	})

	err := aerrors.New("agent.detection", aerrors.KindAgentTimeout, "timed out")
	result := s.Handle(context.Background(), err, "agent.detection", nil, "", "inc-2")

	if !result.RecoverySucceeded || result.Strategy != StrategyGracefulDegradation {
		t.Fatalf("expected fallback to graceful_degradation to succeed, got %+v", result)
	}
}

func TestSystem_Handle_UnknownStrategyFails(t *testing.T) {
	s := NewSystem(nil)
	err := aerrors.New("op", aerrors.KindInternal, "boom")
	result := s.Handle(context.Background(), err, "eventstore", nil, "", "inc-3")
	if result.RecoverySucceeded || result.Reason != "unknown_strategy" {
		t.Fatalf("expected unknown_strategy failure with no actions registered, got %+v", result)
	}
}

func TestSystem_Handle_EscalatesOnCriticalSeverity(t *testing.T) {
	esc := newFakeEscalator()
	s := NewSystem(esc)
	s.RegisterAction(RecoveryAction{
		ActionID: "human_escalation", Strategy: StrategyHumanEscalation, MaxAttempts: 1, Timeout: time.Second,
		Run: func(_ context.Context, _ ErrorContext) (map[string]any, error) {
			return map[string]any{"status": "success", "escalated": true}, nil
		},
	})
	s.RegisterTriggers(EscalationTrigger{
		TriggerID:           "critical_system_failure",
		AutoEscalationDelay: 10 * time.Millisecond,
		Condition: func(ec ErrorContext, _ RecentCounts) bool {
			return ec.Severity == SeverityCritical
		},
	})

	wait := esc.await("critical_system_failure")
	err := aerrors.New("op", aerrors.KindByzantineDetected, "forged message")
	result := s.Handle(context.Background(), err, "consensus.engine", nil, "", "inc-4")

	if !result.EscalationFired {
		t.Fatalf("expected EscalationFired=true, got %+v", result)
	}
	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("expected escalator.Escalate to be called within the auto-escalation delay")
	}
}

func TestCoordinatorAdapter_EscalateFiresTrigger(t *testing.T) {
	esc := newFakeEscalator()
	s := NewSystem(esc)
	s.RegisterAction(RecoveryAction{
		ActionID: "human_escalation", Strategy: StrategyHumanEscalation, MaxAttempts: 1, Timeout: time.Second,
		Run: func(_ context.Context, _ ErrorContext) (map[string]any, error) {
			return map[string]any{"status": "success", "escalated": true}, nil
		},
	})
	trigger := DefaultTriggers()[0] // critical_system_failure
	trigger.AutoEscalationDelay = 10 * time.Millisecond
	s.RegisterTriggers(trigger)

	adapter := NewCoordinatorAdapter(s, "system.coordinator")
	wait := esc.await("critical_system_failure")

	if err := adapter.Escalate(context.Background(), "inc-5", "consensus aborted"); err != nil {
		t.Fatalf("unexpected error from Escalate: %v", err)
	}
	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("expected CoordinatorAdapter.Escalate to trip the critical_system_failure trigger")
	}
}

type erroringEscalator struct{ err error }

func (e erroringEscalator) Escalate(context.Context, ErrorContext, EscalationTrigger) error {
	return e.err
}

func TestMultiEscalator_SucceedsIfAnyOneSucceeds(t *testing.T) {
	esc := newFakeEscalator()
	m := NewMultiEscalator(erroringEscalator{err: errors.New("slack down")}, esc)

	if err := m.Escalate(context.Background(), ErrorContext{ErrorID: "e1"}, EscalationTrigger{TriggerID: "t1"}); err != nil {
		t.Fatalf("expected success when at least one escalator succeeds, got %v", err)
	}
	if len(esc.fired) != 1 || esc.fired[0] != "t1" {
		t.Errorf("expected the working escalator to have fired, got %v", esc.fired)
	}
}

func TestMultiEscalator_FailsIfAllFail(t *testing.T) {
	m := NewMultiEscalator(erroringEscalator{err: errors.New("a")}, erroringEscalator{err: errors.New("b")})
	if err := m.Escalate(context.Background(), ErrorContext{}, EscalationTrigger{TriggerID: "t2"}); err == nil {
		t.Fatal("expected an error when every escalator fails")
	}
}

func TestMultiEscalator_SkipsNilEntries(t *testing.T) {
	esc := newFakeEscalator()
	m := NewMultiEscalator(nil, esc, nil)
	if len(m.escalators) != 1 {
		t.Fatalf("expected nil escalators to be filtered out, got %d", len(m.escalators))
	}
	if err := m.Escalate(context.Background(), ErrorContext{}, EscalationTrigger{TriggerID: "t3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnalytics_SuccessRateDefaultsTo100WithNoAttempts(t *testing.T) {
	var a StrategyAnalytics
	if rate := a.SuccessRate(); rate != 100.0 {
		t.Errorf("expected default success rate 100, got %v", rate)
	}
}

func TestAnalytics_TracksAcrossStrategies(t *testing.T) {
	s := NewSystem(nil)
	s.RegisterAction(RecoveryAction{
		ActionID: "service_retry", Strategy: StrategyRetry, MaxAttempts: 1, Timeout: time.Second,
		Run: func(_ context.Context, _ ErrorContext) (map[string]any, error) { return map[string]any{"status": "success"}, nil },
	})
	err := aerrors.New("op", aerrors.KindAgentTimeout, "x")
	s.Handle(context.Background(), err, "service.x", nil, "", "")

	analytics := s.Analytics()
	st, ok := analytics.PerStrategy[StrategyRetry]
	if !ok || st.Successes != 1 {
		t.Fatalf("expected 1 recorded success for retry strategy, got %+v", analytics)
	}
}
