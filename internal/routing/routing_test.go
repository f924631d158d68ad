package routing

import (
	"context"
	"testing"
	"time"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/config"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

func TestPool_UpsertAndSnapshot(t *testing.T) {
	p := NewPool(nil)
	p.Upsert(agent.Replica{ReplicaID: "r1", AgentType: "detection", Status: agent.ReplicaHealthy})
	p.Upsert(agent.Replica{ReplicaID: "r1", AgentType: "detection", Status: agent.ReplicaDegraded})

	snap := p.Snapshot("detection")
	if len(snap) != 1 || snap[0].Status != agent.ReplicaDegraded {
		t.Errorf("expected single updated replica, got %+v", snap)
	}
}

func TestHealthy_ExcludesDrainingDeadIsolated(t *testing.T) {
	in := []agent.Replica{
		{ReplicaID: "a", Status: agent.ReplicaHealthy},
		{ReplicaID: "b", Status: agent.ReplicaDegraded},
		{ReplicaID: "c", Status: agent.ReplicaDraining},
		{ReplicaID: "d", Status: agent.ReplicaDead},
		{ReplicaID: "e", Status: agent.ReplicaIsolated},
	}
	got := Healthy(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 healthy/degraded replicas, got %d: %+v", len(got), got)
	}
}

func TestSelect_LeastLoaded(t *testing.T) {
	candidates := []agent.Replica{
		{ReplicaID: "a", CurrentLoad: 8, MaxCapacity: 10},
		{ReplicaID: "b", CurrentLoad: 1, MaxCapacity: 10},
	}
	got := Select(LeastLoaded, "detection", candidates, "", agent.SeverityLow)
	if got.ReplicaID != "b" {
		t.Errorf("expected least-loaded replica b, got %s", got.ReplicaID)
	}
}

func TestSelect_SeverityAware_PrefersPerformanceForCritical(t *testing.T) {
	candidates := []agent.Replica{
		{ReplicaID: "a", PerformanceScore: 0.4, CurrentLoad: 0, MaxCapacity: 10},
		{ReplicaID: "b", PerformanceScore: 0.9, CurrentLoad: 9, MaxCapacity: 10},
	}
	got := Select(SeverityAware, "detection", candidates, "", agent.SeverityCritical)
	if got.ReplicaID != "b" {
		t.Errorf("expected highest-performance replica for critical severity, got %s", got.ReplicaID)
	}
}

func TestSelect_RegionAffinity_FallsBackWhenNoMatch(t *testing.T) {
	candidates := []agent.Replica{
		{ReplicaID: "a", Region: "us-east", CurrentLoad: 1, MaxCapacity: 10},
	}
	got := Select(RegionAffinity, "detection", candidates, "eu-west", agent.SeverityLow)
	if got == nil || got.ReplicaID != "a" {
		t.Errorf("expected fallback to least-loaded when no region match, got %+v", got)
	}
}

func TestFallbackChain_HealthyBeforeDegraded_RankedByPerformance(t *testing.T) {
	all := []agent.Replica{
		{ReplicaID: "degraded-high", Status: agent.ReplicaDegraded, PerformanceScore: 0.99},
		{ReplicaID: "healthy-low", Status: agent.ReplicaHealthy, PerformanceScore: 0.1},
		{ReplicaID: "healthy-high", Status: agent.ReplicaHealthy, PerformanceScore: 0.9},
	}
	chain := FallbackChain(all)
	if len(chain) != 3 {
		t.Fatalf("expected all 3 in chain, got %d", len(chain))
	}
	if chain[0].ReplicaID != "healthy-high" || chain[1].ReplicaID != "healthy-low" {
		t.Errorf("expected healthy replicas first ranked by performance, got %v", []string{chain[0].ReplicaID, chain[1].ReplicaID})
	}
	if chain[2].ReplicaID != "degraded-high" {
		t.Errorf("expected degraded replica last, got %s", chain[2].ReplicaID)
	}
}

func TestEvaluateScaling_ScalesUpWithinMax(t *testing.T) {
	pool := config.ReplicaPoolConfig{MinReplicas: 1, MaxReplicas: 5}
	now := time.Now()
	d := EvaluateScaling(pool, 3, 0.95, 0.9, 0.2, now.Add(-time.Hour), now, time.Minute, false)
	if d.Action != ScaleUp || d.TargetReplicas != 4 {
		t.Errorf("expected scale up to 4, got %+v", d)
	}
}

func TestEvaluateScaling_RespectsCooldown(t *testing.T) {
	pool := config.ReplicaPoolConfig{MinReplicas: 1, MaxReplicas: 5}
	now := time.Now()
	d := EvaluateScaling(pool, 3, 0.95, 0.9, 0.2, now.Add(-10*time.Second), now, time.Minute, false)
	if d.Action != ScaleNone {
		t.Errorf("expected no scaling during cooldown, got %+v", d)
	}
}

func TestEvaluateScaling_NeverExceedsMax(t *testing.T) {
	pool := config.ReplicaPoolConfig{MinReplicas: 1, MaxReplicas: 5}
	now := time.Now()
	d := EvaluateScaling(pool, 5, 0.99, 0.9, 0.2, now.Add(-time.Hour), now, time.Minute, false)
	if d.Action != ScaleNone || d.TargetReplicas != 5 {
		t.Errorf("expected no scaling at max capacity, got %+v", d)
	}
}

func TestEvaluateScaling_BlockedWhileInFlight(t *testing.T) {
	pool := config.ReplicaPoolConfig{MinReplicas: 1, MaxReplicas: 5}
	now := time.Now()
	d := EvaluateScaling(pool, 3, 0.95, 0.9, 0.2, now.Add(-time.Hour), now, time.Minute, true)
	if d.Action != ScaleNone {
		t.Errorf("expected no scaling while another action is in flight, got %+v", d)
	}
}

func TestSelectScaleRegion_PrefersFewestReplicas(t *testing.T) {
	counts := map[string]int{"us-east": 4, "us-west": 2, "eu-west": 2}
	got := SelectScaleRegion(counts, []string{"us-east", "us-west", "eu-west"})
	if got != "eu-west" {
		t.Errorf("expected eu-west (tied lowest, lexicographically first), got %s", got)
	}
}

// fakeCaller returns canned recommendations/errors per replica id.
type fakeCaller struct {
	fail map[string]error
}

func (c *fakeCaller) Call(_ context.Context, replica agent.Replica, incident agent.Incident) (*agent.Recommendation, error) {
	if err, ok := c.fail[replica.ReplicaID]; ok {
		return nil, err
	}
	return &agent.Recommendation{IncidentID: incident.IncidentID, AgentID: replica.ReplicaID, ActionType: "restart_service", Confidence: 0.8}, nil
}

func TestDispatcher_FallsBackToNextReplicaOnTimeout(t *testing.T) {
	pool := NewPool(nil)
	pool.Upsert(agent.Replica{ReplicaID: "r1", AgentType: "detection", Status: agent.ReplicaHealthy, PerformanceScore: 0.9})
	pool.Upsert(agent.Replica{ReplicaID: "r2", AgentType: "detection", Status: agent.ReplicaHealthy, PerformanceScore: 0.1})

	caller := &fakeCaller{fail: map[string]error{"r1": aerrors.New("test", aerrors.KindAgentTimeout, "timed out")}}
	d := NewDispatcher(pool, caller, WeightedByPerformance, "")

	rec, err := d.Dispatch(context.Background(), "detection", agent.Incident{IncidentID: "inc-1"})
	if err != nil {
		t.Fatalf("expected fallback to r2 to succeed, got %v", err)
	}
	if rec.AgentID != "r2" {
		t.Errorf("expected r2 to answer after r1 timed out, got %s", rec.AgentID)
	}
}

func TestDispatcher_ExhaustsAllReplicas(t *testing.T) {
	pool := NewPool(nil)
	pool.Upsert(agent.Replica{ReplicaID: "r1", AgentType: "detection", Status: agent.ReplicaHealthy})

	caller := &fakeCaller{fail: map[string]error{"r1": aerrors.New("test", aerrors.KindAgentTimeout, "timed out")}}
	d := NewDispatcher(pool, caller, RoundRobin, "")

	_, err := d.Dispatch(context.Background(), "detection", agent.Incident{IncidentID: "inc-2"})
	if aerrors.KindOf(err) != aerrors.KindAllFallbacksExhausted {
		t.Errorf("expected KindAllFallbacksExhausted, got %v", err)
	}
}

func TestDispatcher_NoHealthyReplicas(t *testing.T) {
	pool := NewPool(nil)
	d := NewDispatcher(pool, &fakeCaller{}, RoundRobin, "")
	_, err := d.Dispatch(context.Background(), "ghost-type", agent.Incident{IncidentID: "inc-3"})
	if aerrors.KindOf(err) != aerrors.KindAllFallbacksExhausted {
		t.Errorf("expected KindAllFallbacksExhausted for empty pool, got %v", err)
	}
}

func TestDispatcher_SuccessRate_UnknownUntilRecorded(t *testing.T) {
	d := NewDispatcher(NewPool(nil), &fakeCaller{}, RoundRobin, "")
	if _, known := d.SuccessRate("restart_service", agent.SeverityHigh); known {
		t.Error("expected unknown success rate before any outcomes recorded")
	}
	d.RecordOutcome("restart_service", agent.SeverityHigh, true)
	d.RecordOutcome("restart_service", agent.SeverityHigh, false)
	rate, known := d.SuccessRate("restart_service", agent.SeverityHigh)
	if !known || rate != 0.5 {
		t.Errorf("expected success rate 0.5, got %v known=%v", rate, known)
	}
}

