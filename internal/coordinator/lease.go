package coordinator

import (
	"fmt"
	"sync"
)

// Lease is a scoped acquisition of whatever external resource a
// Resolution agent's action touches (a lock on a deployment, a hold
// on a scaling target) for the duration of executeDecidedAction.
// Release is safe to call more than once and must be called on every
// exit path — grounded on the teacher's defer pool.Close()/defer
// cancel() discipline, generalized from a fixed resource type to an
// opaque key string since the action determines what's held.
type Lease struct {
	mgr  *LeaseManager
	key  string
	once sync.Once
}

// Release frees the lease. Idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mgr.release(l.key)
	})
}

// Key identifies what this lease holds, for logging/diagnostics.
func (l *Lease) Key() string { return l.key }

// LeaseManager tracks in-flight leases so two actions can never hold
// the same resource key at once; a second Acquire for a held key
// blocks the caller conceptually, but since the Coordinator only
// executes one action at a time per incident, in practice this just
// guards against accidental concurrent execution of the same action.
type LeaseManager struct {
	mu     sync.Mutex
	held   map[string]bool
	waiter map[string]chan struct{}
}

// NewLeaseManager builds an empty LeaseManager.
func NewLeaseManager() *LeaseManager {
	return &LeaseManager{
		held:   make(map[string]bool),
		waiter: make(map[string]chan struct{}),
	}
}

func leaseKey(incidentID, actionID string) string {
	return fmt.Sprintf("%s:%s", incidentID, actionID)
}

// Acquire blocks until key is free, then marks it held and returns a
// Lease whose Release frees it.
func (m *LeaseManager) Acquire(incidentID, actionID string) *Lease {
	key := leaseKey(incidentID, actionID)
	for {
		m.mu.Lock()
		if !m.held[key] {
			m.held[key] = true
			m.mu.Unlock()
			return &Lease{mgr: m, key: key}
		}
		ch, ok := m.waiter[key]
		if !ok {
			ch = make(chan struct{})
			m.waiter[key] = ch
		}
		m.mu.Unlock()
		<-ch
	}
}

func (m *LeaseManager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	if ch, ok := m.waiter[key]; ok {
		delete(m.waiter, key)
		close(ch)
	}
}
