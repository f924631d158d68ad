package agent

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	astore "github.com/aegisflow/aegis/internal/store"
)

// Store persists Replicas and Certificates — the ReplicaSink the
// Patrol drives, and the registry CertVerifier.SetCertificate is fed
// from on startup/rotation.
type Store struct {
	astore.BaseStore
}

// NewStore builds a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{astore.NewBaseStore(pool)}
}

// Upsert implements ReplicaSink.
func (s *Store) Upsert(ctx context.Context, r *Replica) error {
	pool := s.Pool()
	if pool == nil {
		return nil
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO agent_replicas (replica_id, agent_type, region, status, current_load, max_capacity, performance_score, last_heartbeat)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (replica_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   current_load = EXCLUDED.current_load,
		   performance_score = EXCLUDED.performance_score,
		   last_heartbeat = EXCLUDED.last_heartbeat`,
		r.ReplicaID, r.AgentType, r.Region, string(r.Status), r.CurrentLoad, r.MaxCapacity, r.PerformanceScore, r.LastHeartbeat)
	return err
}

// List implements ReplicaSink.
func (s *Store) List(ctx context.Context) ([]Replica, error) {
	pool := s.Pool()
	if pool == nil {
		return nil, nil
	}
	rows, err := pool.Query(ctx,
		`SELECT replica_id, agent_type, region, status, current_load, max_capacity, performance_score, last_heartbeat FROM agent_replicas`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return astore.CollectRows[Replica](rows)
}

// LoadCertificates loads every non-expired certificate, for populating
// a CertVerifier at startup.
func (s *Store) LoadCertificates(ctx context.Context) ([]Certificate, error) {
	pool := s.Pool()
	if pool == nil {
		return nil, nil
	}
	rows, err := pool.Query(ctx,
		`SELECT agent_id, certificate_id, public_key, issued_at, expires_at, status, revocation_reason FROM agent_certificates WHERE expires_at > now()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return astore.CollectRows[Certificate](rows)
}
