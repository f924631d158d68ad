package consensus

import (
	"time"

	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

// Cluster wires N Engines into one in-process PBFT cluster: every
// Engine's Broadcast fans its message out to every member's matching
// Handle* method, including its own — generalizing engine_test.go's
// fourNodeEngines fixture (which wires broadcasters that only capture
// messages for a test to redeliver by hand) into production wiring for
// the single-binary deployment spec.md §9 describes, where one process
// hosts the whole replica set instead of N separate ones.
//
// Delivering a PRE_PREPARE back to its own sender is what lets a
// degenerate one-node cluster (n=1, f=0, quorum=1) decide at all: the
// Engine's own HandlePrePrepare is what records its first PREPARE
// vote, the same vote every other peer records for itself on receipt.
type Cluster struct {
	engines map[string]*Engine
}

// TrustAllVerifier accepts every ConsensusMessage regardless of
// Signature — the correct trust model for a Cluster, where every
// simulated peer is the same trusted process and there is no network
// boundary for a forged message to cross. A real multi-process
// deployment wires agent.CertVerifier instead.
type TrustAllVerifier struct{}

func (TrustAllVerifier) Verify(string, ConsensusMessage) bool { return true }

// NewCluster builds one Engine per id in peers, every one configured
// to broadcast into every member of the cluster including itself.
func NewCluster(peers []string, verifier Verifier, roundDeadline, viewChangeDeadline time.Duration) *Cluster {
	c := &Cluster{engines: make(map[string]*Engine, len(peers))}
	for _, id := range peers {
		c.engines[id] = NewEngine(id, peers, verifier, clusterBroadcaster{cluster: c}, roundDeadline, viewChangeDeadline)
	}
	return c
}

// Engine returns the named peer's Engine, or nil if peerID isn't a
// member of the cluster.
func (c *Cluster) Engine(peerID string) *Engine {
	return c.engines[peerID]
}

// Primary returns the Engine currently primary for its own view — the
// one whose Propose calls actually originate a round. All members
// share the same view in steady state, so any member's Engine agrees
// on who this is.
func (c *Cluster) Primary() *Engine {
	for _, e := range c.engines {
		return c.engines[e.primaryForView(e.View())]
	}
	return nil
}

// SetSuspicionSink wires sink onto every member Engine.
func (c *Cluster) SetSuspicionSink(sink SuspicionSink) {
	for _, e := range c.engines {
		e.SetSuspicionSink(sink)
	}
}

// SetOnDecided wires fn onto every member Engine; a Round decides
// identically across all correct members, so the callback fires once
// per member per round unless the caller de-duplicates by digest.
func (c *Cluster) SetOnDecided(fn func(*Round)) {
	for _, e := range c.engines {
		e.SetOnDecided(fn)
	}
}

type clusterBroadcaster struct {
	cluster *Cluster
}

// Broadcast hands msg to every member on its own goroutine: an Engine
// broadcasts while holding its own lock, so delivering inline (back to
// the sender, or to a peer whose handler broadcasts in turn) would
// block on a lock that is already held.
func (b clusterBroadcaster) Broadcast(msg ConsensusMessage) {
	for _, e := range b.cluster.engines {
		e := e
		util.SafeGo(func() {
			if err := deliver(e, msg); err != nil {
				logger.Debugw("cluster: peer rejected consensus message",
					logger.FieldNodeID, e.selfID, "from", msg.SenderID, "type", msg.Type, logger.FieldError, err)
			}
		})
	}
}

func deliver(e *Engine, msg ConsensusMessage) error {
	switch msg.Type {
	case MsgPrePrepare:
		return e.HandlePrePrepare(msg)
	case MsgPrepare:
		return e.HandlePrepare(msg)
	case MsgCommit:
		return e.HandleCommit(msg)
	case MsgViewChange:
		return e.HandleViewChange(msg)
	case MsgNewView:
		return e.HandleNewView(msg)
	default:
		return nil
	}
}
