package agent

import (
	"context"
	"testing"
	"time"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

type cannedCapability struct {
	rec *Recommendation
	err error
}

func (c cannedCapability) ProcessIncident(Incident) (*Recommendation, error) { return c.rec, c.err }
func (c cannedCapability) HandleMessage(Message) (*Message, error)          { return nil, nil }
func (c cannedCapability) HealthCheck() bool                                { return true }

func TestRegistry_CallRoutesToRegisteredRuntime(t *testing.T) {
	rec := &Recommendation{ActionID: "a1", ActionType: "restart_service"}
	rt := NewRuntime(cannedCapability{rec: rec}, RuntimeConfig{AgentID: "r1", CallTimeout: time.Second, MaxRetries: 0, BreakerMaxFailures: 5})

	reg := NewRegistry()
	reg.Register("replica-1", rt)

	got, err := reg.Call(context.Background(), Replica{ReplicaID: "replica-1"}, Incident{IncidentID: "inc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ActionID != "a1" {
		t.Fatalf("expected recommendation from registered runtime, got %+v", got)
	}
}

func TestRegistry_CallFailsForUnknownReplica(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Call(context.Background(), Replica{ReplicaID: "missing"}, Incident{})
	if aerrors.KindOf(err) != aerrors.KindAgentTimeout {
		t.Fatalf("expected KindAgentTimeout for unknown replica, got %v", err)
	}
}

func TestRegistry_UnregisterRemovesReplica(t *testing.T) {
	rt := NewRuntime(cannedCapability{rec: &Recommendation{}}, RuntimeConfig{AgentID: "r2", CallTimeout: time.Second, MaxRetries: 0, BreakerMaxFailures: 5})
	reg := NewRegistry()
	reg.Register("replica-2", rt)
	reg.Unregister("replica-2")

	_, err := reg.Call(context.Background(), Replica{ReplicaID: "replica-2"}, Incident{})
	if err == nil {
		t.Fatal("expected error after unregistering replica")
	}
}
