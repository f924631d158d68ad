package remediation

import (
	"context"
	"errors"
	"testing"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/coordinator"
)

type fakeRunner struct {
	outcome string
	err     error
	calls   int
}

func (f *fakeRunner) Run(_ context.Context, _ agent.Recommendation) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.outcome, nil
}

func newLease(t *testing.T, incidentID, actionID string) *coordinator.Lease {
	t.Helper()
	mgr := coordinator.NewLeaseManager()
	return mgr.Acquire(incidentID, actionID)
}

func TestExecutor_RunsRegisteredRunnerForActionType(t *testing.T) {
	runner := &fakeRunner{outcome: "service restarted"}
	exec := NewExecutor()
	exec.Register("restart_service", runner)

	lease := newLease(t, "inc-1", "act-1")
	defer lease.Release()

	outcome, err := exec.Execute(context.Background(), agent.Recommendation{ActionID: "act-1", ActionType: "restart_service"}, lease)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != "service restarted" {
		t.Fatalf("expected canned outcome, got %q", outcome)
	}
	if runner.calls != 1 {
		t.Fatalf("expected runner called once, got %d", runner.calls)
	}
}

func TestExecutor_FallsBackWhenActionTypeUnregistered(t *testing.T) {
	fallback := &fakeRunner{outcome: "handled by fallback"}
	exec := NewExecutor()
	exec.SetFallback(fallback)

	lease := newLease(t, "inc-2", "act-2")
	defer lease.Release()

	outcome, err := exec.Execute(context.Background(), agent.Recommendation{ActionID: "act-2", ActionType: "scale_out"}, lease)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != "handled by fallback" {
		t.Fatalf("expected fallback outcome, got %q", outcome)
	}
}

func TestExecutor_FailsClosedWithNoRunnerOrFallback(t *testing.T) {
	exec := NewExecutor()
	lease := newLease(t, "inc-3", "act-3")
	defer lease.Release()

	_, err := exec.Execute(context.Background(), agent.Recommendation{ActionID: "act-3", ActionType: "unknown_action"}, lease)
	if err == nil {
		t.Fatal("expected an error when no runner or fallback is registered")
	}
}

func TestExecutor_SurfacesRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("runbook unavailable")}
	exec := NewExecutor()
	exec.SetFallback(runner)

	lease := newLease(t, "inc-4", "act-4")
	defer lease.Release()

	_, err := exec.Execute(context.Background(), agent.Recommendation{ActionID: "act-4", ActionType: "restart_service"}, lease)
	if err == nil {
		t.Fatal("expected the runner's error to surface")
	}
}

func TestRuntimeRunner_ReturnsDispatchedWhenCapabilityHasNoReply(t *testing.T) {
	rt := agent.NewRuntime(silentCapability{}, agent.RuntimeConfig{AgentID: "resolution-1", CallTimeout: 0, MaxRetries: 0, BreakerMaxFailures: 5})
	runner := RuntimeRunner{Runtime: rt}

	outcome, err := runner.Run(context.Background(), agent.Recommendation{AgentID: "resolution-1", ActionID: "act-5", ActionType: "restart_service"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != "dispatched" {
		t.Fatalf("expected default %q outcome, got %q", "dispatched", outcome)
	}
}

// silentCapability answers HandleMessage with no reply, exercising
// RuntimeRunner.Run's nil-reply branch.
type silentCapability struct{}

func (silentCapability) ProcessIncident(agent.Incident) (*agent.Recommendation, error) { return nil, nil }
func (silentCapability) HandleMessage(agent.Message) (*agent.Message, error)           { return nil, nil }
func (silentCapability) HealthCheck() bool                                            { return true }
