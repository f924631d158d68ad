// router.go — replica message router (service discovery over the
// agent_replicas table, transport over direct WebSocket connections).
//
// Simplified architecture:
//
//	agent_replicas table = service registry (ws_addr/status)
//	any replica looks up another replica's address -> dials directly
//
// Routing flow:
//  1. SendToReplica(fromID, toID, envelope) -> look up toID's ws_addr
//  2. dial (or reuse a cached) *websocket.Conn
//  3. write the envelope as a JSON frame
//  4. mirror the send onto the bus so local subscribers also observe it
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReplicaDiscoverer is the service-discovery interface, backed by the
// Postgres-resident agent_replicas repository.
type ReplicaDiscoverer interface {
	FindByID(ctx context.Context, replicaID string) (ReplicaEndpoint, error)
	ListActive(ctx context.Context) ([]ReplicaEndpoint, error)
}

// ReplicaEndpoint is a discovered replica's network address.
type ReplicaEndpoint struct {
	ReplicaID string `json:"replica_id"`
	WSAddr    string `json:"ws_addr"`
	Status    string `json:"status"`
}

// ReplicaRouter routes envelopes directly between replicas over
// WebSocket, using agent_replicas as its service registry. It is the
// point-to-point complement to MessageBus's in-process fan-out: the
// bus delivers to local subscribers, the router delivers across
// processes.
type ReplicaRouter struct {
	bus      *MessageBus
	discover ReplicaDiscoverer
	mu       sync.RWMutex
	conns    map[string]*websocket.Conn // replicaID -> live connection
	dialer   websocket.Dialer
}

// NewReplicaRouter creates a router backed by discover for endpoint
// lookups, mirroring every send onto bus.
func NewReplicaRouter(bus *MessageBus, discover ReplicaDiscoverer) *ReplicaRouter {
	return &ReplicaRouter{
		bus:      bus,
		discover: discover,
		conns:    make(map[string]*websocket.Conn),
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// SendToReplica delivers an envelope directly to toReplicaID's
// WebSocket endpoint, looked up via the discoverer, and mirrors the
// send onto the local bus for same-process observers.
func (r *ReplicaRouter) SendToReplica(ctx context.Context, fromReplicaID, toReplicaID string, env Envelope) error {
	endpoint, err := r.discover.FindByID(ctx, toReplicaID)
	if err != nil {
		return fmt.Errorf("router: discover replica %s: %w", toReplicaID, err)
	}
	if endpoint.Status != "active" {
		return fmt.Errorf("router: replica %s not active (status=%s)", toReplicaID, endpoint.Status)
	}

	conn, err := r.getOrDial(toReplicaID, endpoint.WSAddr)
	if err != nil {
		return fmt.Errorf("router: dial %s (%s): %w", toReplicaID, endpoint.WSAddr, err)
	}

	env.From = fromReplicaID
	env.To = toReplicaID
	if err := conn.WriteJSON(env); err != nil {
		r.dropConn(toReplicaID)
		return fmt.Errorf("router: write to %s: %w", toReplicaID, err)
	}

	r.bus.Publish(env)
	return nil
}

// Broadcast sends env to every active replica except fromReplicaID,
// returning the last error encountered (if any) so a single
// unreachable peer doesn't block delivery to the rest.
func (r *ReplicaRouter) Broadcast(ctx context.Context, fromReplicaID string, env Envelope) error {
	endpoints, err := r.discover.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("router: discover active replicas: %w", err)
	}

	var lastErr error
	for _, ep := range endpoints {
		if ep.ReplicaID == fromReplicaID {
			continue
		}
		if err := r.SendToReplica(ctx, fromReplicaID, ep.ReplicaID, env); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ListReplicas returns every currently active replica endpoint.
func (r *ReplicaRouter) ListReplicas(ctx context.Context) ([]ReplicaEndpoint, error) {
	return r.discover.ListActive(ctx)
}

// PublishReplicaEvent mirrors an event originating from a replica
// (consensus vote, heartbeat, status) onto the bus under
// replica.<id>.<subtopic>, so both local subscribers and the audit
// mirror observe it uniformly.
func (r *ReplicaRouter) PublishReplicaEvent(replicaID, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return // never let a bad payload break the event loop
	}

	subtopic := "event"
	switch msgType {
	case MsgPrepare, MsgCommit, MsgPrePrepare, MsgViewChange, MsgNewView:
		subtopic = "vote"
	case MsgHeartbeat, MsgHeartbeatTimeout, MsgHeartbeatRecover:
		subtopic = "heartbeat"
	case MsgActionResult, MsgStatusUpdate:
		subtopic = "status"
	}

	r.bus.Publish(Envelope{
		Topic:   TopicReplicaPrefix + replicaID + "." + subtopic,
		From:    replicaID,
		To:      TopicAll,
		Type:    msgType,
		Payload: data,
	})
}

// getOrDial returns a cached, live connection to replicaID, dialing a
// new one if none exists or the cached one has gone stale.
func (r *ReplicaRouter) getOrDial(replicaID, wsAddr string) (*websocket.Conn, error) {
	r.mu.RLock()
	conn, ok := r.conns[replicaID]
	r.mu.RUnlock()
	if ok {
		return conn, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[replicaID]; ok {
		return conn, nil
	}

	u := url.URL{Scheme: "ws", Host: wsAddr, Path: "/replica"}
	conn, _, err := r.dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	r.conns[replicaID] = conn
	return conn, nil
}

// dropConn closes and forgets a cached connection after a write
// failure, forcing the next send to redial.
func (r *ReplicaRouter) dropConn(replicaID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[replicaID]; ok {
		_ = conn.Close()
		delete(r.conns, replicaID)
	}
}

// CleanupStale closes every cached connection; callers use this on
// shutdown or after a topology change invalidates all endpoints.
func (r *ReplicaRouter) CleanupStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		_ = conn.Close()
		delete(r.conns, id)
	}
}
