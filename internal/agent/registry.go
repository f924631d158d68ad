package agent

import (
	"context"
	"sync"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// Registry is an in-process replica->Runtime directory: the
// single-binary deployment's answer to routing.ReplicaCaller, standing
// in for a bus round-trip to a separately-running replica process.
// Grounded on internal/routing.Pool's own replica-registry shape, but
// holding live *Runtime handles instead of health/load snapshots.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Runtime
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Runtime)}
}

// Register associates replicaID with the Runtime that serves its
// calls. Re-registering an ID replaces the previous Runtime.
func (r *Registry) Register(replicaID string, rt *Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[replicaID] = rt
}

// Unregister removes replicaID, e.g. once its heartbeat Patrol marks
// it ReplicaDead.
func (r *Registry) Unregister(replicaID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, replicaID)
}

// Call satisfies routing.ReplicaCaller: look up replica.ReplicaID's
// Runtime and run the incident through it.
func (r *Registry) Call(ctx context.Context, replica Replica, incident Incident) (*Recommendation, error) {
	r.mu.RLock()
	rt, ok := r.byID[replica.ReplicaID]
	r.mu.RUnlock()
	if !ok {
		return nil, aerrors.New("agent.Registry.Call", aerrors.KindAgentTimeout, "no runtime registered for replica "+replica.ReplicaID)
	}
	return rt.ProcessIncident(ctx, incident)
}
