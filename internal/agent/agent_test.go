package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aegisflow/aegis/internal/consensus"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

func verifyMsg() consensus.ConsensusMessage {
	return consensus.ConsensusMessage{Type: consensus.MsgPrepare, View: 0, Sequence: 1, Digest: "d1", SenderID: "agent-x"}
}

func TestDetectionAgent_MatchesMemorySignature(t *testing.T) {
	a := NewDetectionAgent("agent-detect-1", nil)
	rec, err := a.ProcessIncident(Incident{IncidentID: "inc-1", Title: "OOM killer invoked on payments-api", Severity: SeverityHigh})
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if rec.ActionType != "restart_service" {
		t.Errorf("ActionType = %q, want restart_service", rec.ActionType)
	}
	if rec.AgentID != "agent-detect-1" {
		t.Errorf("AgentID = %q", rec.AgentID)
	}
}

func TestResolutionAgent_RiskEscalatesWithSeverity(t *testing.T) {
	a := NewResolutionAgent("agent-resolve-1", nil)
	rec, _ := a.ProcessIncident(Incident{IncidentID: "inc-2", Severity: SeverityCritical})
	if rec.RiskLevel != RiskHigh {
		t.Errorf("RiskLevel = %s, want high for critical severity", rec.RiskLevel)
	}
}

func TestBaseAgent_SignsRecommendationWhenSignerPresent(t *testing.T) {
	called := false
	signer := func(digest []byte) []byte {
		called = true
		return []byte("sig")
	}
	a := NewCommunicationAgent("agent-comms-1", signer)
	rec, _ := a.ProcessIncident(Incident{IncidentID: "inc-3"})
	if !called || string(rec.Signature) != "sig" {
		t.Error("expected signer to be invoked and signature attached")
	}
}

type fakeDrafter struct {
	response string
	err      error
}

func (f fakeDrafter) Invoke(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	return f.response, f.err
}

func TestCommunicationAgent_UsesDraftedMessageWhenDrafterSucceeds(t *testing.T) {
	a := NewCommunicationAgent("agent-comms-2", nil)
	a.SetDrafter(fakeDrafter{response: "investigating payments-api latency"}, "claude-3-5-haiku-20241022")

	rec, err := a.ProcessIncident(Incident{IncidentID: "inc-4", Title: "payments-api latency spike", Severity: SeverityHigh})
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	if rec.Parameters["message"] != "investigating payments-api latency" {
		t.Errorf("Parameters[message] = %v, want the drafted text", rec.Parameters["message"])
	}
}

func TestCommunicationAgent_FallsBackToTemplateWhenDrafterFails(t *testing.T) {
	a := NewCommunicationAgent("agent-comms-3", nil)
	a.SetDrafter(fakeDrafter{err: errors.New("model unavailable")}, "claude-3-5-haiku-20241022")

	rec, err := a.ProcessIncident(Incident{IncidentID: "inc-5", Severity: SeverityCritical})
	if err != nil {
		t.Fatalf("ProcessIncident: %v", err)
	}
	msg, _ := rec.Parameters["message"].(string)
	if msg == "" || msg == "model unavailable" {
		t.Errorf("expected a templated fallback message, got %q", msg)
	}
}

func TestHandleMessage_RespondsToPing(t *testing.T) {
	a := NewDetectionAgent("agent-detect-2", nil)
	reply, err := a.HandleMessage(Message{Type: "ping", From: "coordinator"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply == nil || reply.Type != "pong" {
		t.Errorf("expected pong reply, got %+v", reply)
	}
}

// flakyCapability fails the first N calls, then succeeds.
type flakyCapability struct {
	failures int
	calls    int
}

func (f *flakyCapability) ProcessIncident(incident Incident) (*Recommendation, error) {
	f.calls++
	if f.calls <= f.failures {
		time.Sleep(20 * time.Millisecond)
		return nil, errors.New("transient failure")
	}
	return &Recommendation{IncidentID: incident.IncidentID, ActionType: "noop"}, nil
}
func (f *flakyCapability) HandleMessage(Message) (*Message, error) { return nil, nil }
func (f *flakyCapability) HealthCheck() bool                       { return true }

func TestRuntime_RetriesOnTimeoutThenSucceeds(t *testing.T) {
	inner := &flakyCapability{failures: 2}
	rt := NewRuntime(inner, RuntimeConfig{
		AgentID:            "agent-flaky",
		CallTimeout:        5 * time.Millisecond, // shorter than the sleep, forces KindAgentTimeout
		MaxRetries:         2,
		BreakerMaxFailures: 10,
	})
	rec, err := rt.ProcessIncident(context.Background(), Incident{IncidentID: "inc-4"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if rec == nil {
		t.Fatal("expected a recommendation")
	}
}

// alwaysFailCapability always returns a non-retryable validation error.
type alwaysFailCapability struct{}

func (alwaysFailCapability) ProcessIncident(Incident) (*Recommendation, error) {
	return nil, aerrors.New("test", aerrors.KindValidation, "bad incident")
}
func (alwaysFailCapability) HandleMessage(Message) (*Message, error) { return nil, nil }
func (alwaysFailCapability) HealthCheck() bool                      { return true }

func TestRuntime_DoesNotRetryNonTimeoutErrors(t *testing.T) {
	rt := NewRuntime(alwaysFailCapability{}, RuntimeConfig{
		AgentID:            "agent-always-fail",
		CallTimeout:        time.Second,
		MaxRetries:         3,
		BreakerMaxFailures: 10,
	})
	_, err := rt.ProcessIncident(context.Background(), Incident{IncidentID: "inc-5"})
	if aerrors.KindOf(err) != aerrors.KindValidation {
		t.Errorf("expected validation error to pass through unretried, got %v", err)
	}
}

func TestClassifyHealth_Transitions(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want ReplicaStatus
	}{
		{0, ReplicaHealthy},
		{25 * time.Second, ReplicaDegraded},
		{2 * time.Minute, ReplicaDead},
	}
	for _, c := range cases {
		got := ClassifyHealth(ReplicaHealthy, c.age, 20*time.Second, 60*time.Second)
		if got != c.want {
			t.Errorf("ClassifyHealth(age=%s) = %s, want %s", c.age, got, c.want)
		}
	}
}

func TestClassifyHealth_PreservesDrainingAndIsolated(t *testing.T) {
	if got := ClassifyHealth(ReplicaDraining, time.Hour, time.Second, time.Second); got != ReplicaDraining {
		t.Errorf("expected draining to be preserved, got %s", got)
	}
	if got := ClassifyHealth(ReplicaIsolated, time.Hour, time.Second, time.Second); got != ReplicaIsolated {
		t.Errorf("expected isolated to be preserved, got %s", got)
	}
}

// fakeReplicaSink is an in-memory ReplicaSink for Patrol tests.
type fakeReplicaSink struct {
	replicas map[string]*Replica
}

func (s *fakeReplicaSink) Upsert(_ context.Context, r *Replica) error {
	cp := *r
	s.replicas[r.ReplicaID] = &cp
	return nil
}
func (s *fakeReplicaSink) List(_ context.Context) ([]Replica, error) {
	out := make([]Replica, 0, len(s.replicas))
	for _, r := range s.replicas {
		out = append(out, *r)
	}
	return out, nil
}

type fakeNotifier struct{ dead []string }

func (n *fakeNotifier) ReplicaDead(r Replica) { n.dead = append(n.dead, r.ReplicaID) }

func TestPatrol_RunOnce_NotifiesOnNewlyDead(t *testing.T) {
	now := time.Now()
	sink := &fakeReplicaSink{replicas: map[string]*Replica{
		"r1": {ReplicaID: "r1", Status: ReplicaHealthy, LastHeartbeat: now.Add(-10 * time.Minute)},
	}}
	notifier := &fakeNotifier{}
	p := NewPatrol(sink, notifier, time.Second, 2, 4)

	if err := p.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(notifier.dead) != 1 || notifier.dead[0] != "r1" {
		t.Errorf("expected r1 reported dead, got %v", notifier.dead)
	}
	if sink.replicas["r1"].Status != ReplicaDead {
		t.Errorf("expected r1 persisted as dead, got %s", sink.replicas["r1"].Status)
	}
}

func TestCertVerifier_RejectsUnknownSender(t *testing.T) {
	v := NewCertVerifier()
	if v.Verify("ghost", verifyMsg()) {
		t.Error("expected unknown sender to fail verification")
	}
}

func TestCertVerifier_RejectsRevokedCertificate(t *testing.T) {
	v := NewCertVerifier()
	v.SetCertificate(Certificate{AgentID: "agent-x", Status: CertRevoked, PublicKey: []byte("not-a-real-key")})
	if v.Verify("agent-x", verifyMsg()) {
		t.Error("expected revoked certificate to fail verification")
	}
}
