package consensus

import (
	"sync"
	"testing"
	"time"
)

func TestCluster_SingleNodeDecidesOnItsOwnQuorum(t *testing.T) {
	c := NewCluster([]string{"solo"}, TrustAllVerifier{}, time.Second, time.Second)

	var decided int32
	var mu sync.Mutex
	c.SetOnDecided(func(r *Round) {
		mu.Lock()
		decided++
		mu.Unlock()
	})

	primary := c.Primary()
	if primary == nil {
		t.Fatal("expected a primary in a one-node cluster")
	}

	if _, err := primary.Propose(&Proposal{IncidentID: "inc-1", ActionID: "restart-svc"}); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	round := primary.Round(0, 1)
	if round == nil || round.Phase != PhaseDecided {
		t.Fatalf("expected round DECIDED in a one-node cluster, got %+v", round)
	}
}

func TestCluster_FourNodesReachQuorumThroughBroadcastLoop(t *testing.T) {
	peers := []string{"node-a", "node-b", "node-c", "node-d"}
	c := NewCluster(peers, TrustAllVerifier{}, time.Second, time.Second)

	var decided int32
	var mu sync.Mutex
	c.SetOnDecided(func(r *Round) {
		mu.Lock()
		decided++
		mu.Unlock()
	})

	primary := c.Primary()
	if _, err := primary.Propose(&Proposal{IncidentID: "inc-2", ActionID: "rollback"}); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	for _, id := range peers {
		e := c.Engine(id)
		r := e.Round(0, 1)
		if r == nil || r.Phase != PhaseDecided {
			t.Errorf("%s: expected round DECIDED, got %+v", id, r)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if decided == 0 {
		t.Error("expected onDecided to have fired at least once")
	}
}

func TestCluster_EngineReturnsNilForUnknownPeer(t *testing.T) {
	c := NewCluster([]string{"solo"}, TrustAllVerifier{}, time.Second, time.Second)
	if c.Engine("ghost") != nil {
		t.Error("expected nil for an unregistered peer ID")
	}
}
