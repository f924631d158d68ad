// Package agent implements the capability-set runtime each agent
// variant (detection, diagnosis, prediction, resolution, communication)
// shares: a circuit breaker, a deadline, and an exponential-backoff
// retry loop wrapped around the variant's own compute function, plus
// heartbeat-driven replica health tracking.
//
// Grounded on the teacher's internal/monitor/patrol.go for the
// heartbeat/health shape (ticker-driven RunOnce, fingerprint-free here
// since heartbeats — not output text — drive classification) and on
// _examples/jordigilh-kubernaut/go.mod for the gobreaker dependency
// (the teacher itself has no circuit breaker of its own).
package agent

import "time"

// Severity mirrors an Incident's severity, §3 of the spec.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel is a Recommendation's estimated blast radius.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IncidentStatus is the monotonically-advancing status on an Incident.
type IncidentStatus string

const (
	IncidentNew           IncidentStatus = "new"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFailed        IncidentStatus = "failed"
)

// Incident is immutable after creation except Status, which advances
// monotonically along the order listed in IncidentStatus above.
type Incident struct {
	IncidentID string            `json:"incident_id"`
	Title      string            `json:"title"`
	Severity   Severity          `json:"severity"`
	Source     string            `json:"source"`
	CreatedAt  time.Time         `json:"created_at"`
	Tags       map[string]string `json:"tags"` // service, region, tier
	Status     IncidentStatus    `json:"status"`
}

// Recommendation is what ProcessIncident produces. Never mutated once
// returned; the Coordinator promotes one into a consensus Proposal.
type Recommendation struct {
	IncidentID string         `json:"incident_id"`
	AgentID    string         `json:"agent_id"`
	ActionID   string         `json:"action_id"`
	ActionType string         `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
	Confidence float64        `json:"confidence"` // [0,1]
	RiskLevel  RiskLevel      `json:"risk_level"`
	Rationale  string         `json:"rationale"`
	Urgency    Severity       `json:"urgency"`
	Signature  []byte         `json:"signature"`
}

// Message is the payload HandleMessage exchanges with the Coordinator
// or another replica over the bus, outside the propose/recommend path
// (status queries, cancellation, capability probes).
type Message struct {
	Type    string         `json:"type"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Payload map[string]any `json:"payload"`
}

// CertificateStatus is an AgentCertificate's lifecycle state.
type CertificateStatus string

const (
	CertActive  CertificateStatus = "active"
	CertRevoked CertificateStatus = "revoked"
	CertExpired CertificateStatus = "expired"
)

// Certificate is the identity used to verify signatures on every
// Recommendation and every consensus message this agent emits.
type Certificate struct {
	AgentID          string            `db:"agent_id" json:"agent_id"`
	CertificateID    string            `db:"certificate_id" json:"certificate_id"`
	PublicKey        []byte            `db:"public_key" json:"public_key"`
	IssuedAt         time.Time         `db:"issued_at" json:"issued_at"`
	ExpiresAt        time.Time         `db:"expires_at" json:"expires_at"`
	Status           CertificateStatus `db:"status" json:"status"`
	RevocationReason string            `db:"revocation_reason" json:"revocation_reason,omitempty"`
}

// ReplicaStatus is an AgentReplica's health classification.
type ReplicaStatus string

const (
	ReplicaHealthy  ReplicaStatus = "healthy"
	ReplicaDegraded ReplicaStatus = "degraded"
	ReplicaDraining ReplicaStatus = "draining"
	ReplicaDead     ReplicaStatus = "dead"
	ReplicaIsolated ReplicaStatus = "isolated"
)

// Replica tracks one running instance of an agent variant.
type Replica struct {
	ReplicaID        string        `db:"replica_id" json:"replica_id"`
	AgentType        string        `db:"agent_type" json:"agent_type"`
	Region           string        `db:"region" json:"region"`
	Status           ReplicaStatus `db:"status" json:"status"`
	CurrentLoad      int           `db:"current_load" json:"current_load"`
	MaxCapacity      int           `db:"max_capacity" json:"max_capacity"`
	PerformanceScore float64       `db:"performance_score" json:"performance_score"`
	LastHeartbeat    time.Time     `db:"last_heartbeat" json:"last_heartbeat"`
}

// Capability is the polymorphic interface every agent variant
// implements — detection/diagnosis/prediction/resolution/communication
// differ only in ProcessIncident's internal computation, per spec.md
// §4.4: "Variants differ only in the internal computation... all the
// same interface with different bodies."
type Capability interface {
	ProcessIncident(incident Incident) (*Recommendation, error)
	HandleMessage(msg Message) (*Message, error)
	HealthCheck() bool
}
