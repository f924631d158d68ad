package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegisflow/aegis/pkg/logger"
)

// baseAgent factors the fields every variant needs: an identity for
// Recommendation.AgentID and a signer for Recommendation.Signature.
// Variants embed it and implement only ProcessIncident's computation,
// per spec.md §4.4.
type baseAgent struct {
	agentID string
	signer  func(digest []byte) []byte
}

func newBase(agentID string, signer func(digest []byte) []byte) baseAgent {
	return baseAgent{agentID: agentID, signer: signer}
}

func (b baseAgent) sign(rec *Recommendation) {
	if b.signer == nil {
		return
	}
	digest := []byte(rec.IncidentID + ":" + rec.ActionID + ":" + rec.ActionType)
	rec.Signature = b.signer(digest)
}

func (b baseAgent) newRecommendation(incidentID, actionType string, confidence float64, risk RiskLevel, rationale string, urgency Severity, params map[string]any) *Recommendation {
	rec := &Recommendation{
		IncidentID: incidentID,
		AgentID:    b.agentID,
		ActionID:   uuid.NewString(),
		ActionType: actionType,
		Parameters: params,
		Confidence: confidence,
		RiskLevel:  risk,
		Rationale:  rationale,
		Urgency:    urgency,
	}
	b.sign(rec)
	return rec
}

func (b baseAgent) HealthCheck() bool { return true }

func (b baseAgent) HandleMessage(msg Message) (*Message, error) {
	if msg.Type != "ping" {
		return nil, nil
	}
	return &Message{Type: "pong", From: b.agentID, To: msg.From}, nil
}

// DetectionAgent classifies whether an Incident's tags/title indicate
// a known failure signature, proposing further diagnosis when unsure.
type DetectionAgent struct{ baseAgent }

// NewDetectionAgent builds a detection variant.
func NewDetectionAgent(agentID string, signer func([]byte) []byte) *DetectionAgent {
	return &DetectionAgent{newBase(agentID, signer)}
}

func (a *DetectionAgent) ProcessIncident(incident Incident) (*Recommendation, error) {
	title := strings.ToLower(incident.Title)
	confidence := 0.55
	actionType := "escalate_for_diagnosis"
	risk := RiskLow

	switch {
	case strings.Contains(title, "oom") || strings.Contains(title, "memory"):
		actionType, confidence, risk = "restart_service", 0.8, RiskMedium
	case strings.Contains(title, "latency") || strings.Contains(title, "timeout"):
		actionType, confidence, risk = "scale_out", 0.7, RiskLow
	case strings.Contains(title, "5xx") || strings.Contains(title, "error rate"):
		actionType, confidence, risk = "rollback_deploy", 0.75, RiskHigh
	}

	return a.newRecommendation(incident.IncidentID, actionType, confidence, risk,
		fmt.Sprintf("pattern match against title %q", incident.Title),
		incident.Severity, map[string]any{"tags": incident.Tags}), nil
}

// DiagnosisAgent narrows a detected signature down to a root-cause
// hypothesis using the incident's service/region/tier tags.
type DiagnosisAgent struct{ baseAgent }

func NewDiagnosisAgent(agentID string, signer func([]byte) []byte) *DiagnosisAgent {
	return &DiagnosisAgent{newBase(agentID, signer)}
}

func (a *DiagnosisAgent) ProcessIncident(incident Incident) (*Recommendation, error) {
	tier := incident.Tags["tier"]
	confidence := 0.6
	risk := RiskMedium
	if tier == "critical" {
		confidence, risk = 0.5, RiskHigh
	}
	return a.newRecommendation(incident.IncidentID, "root_cause_isolate", confidence, risk,
		"correlated against service/region/tier tags", incident.Severity,
		map[string]any{"service": incident.Tags["service"], "region": incident.Tags["region"]}), nil
}

// PredictionAgent estimates whether the incident is likely to recur or
// cascade, using simple rule-based heuristics — forecasting/ML models
// are an explicit spec Non-goal, so this is deliberately not a learned
// model.
type PredictionAgent struct{ baseAgent }

func NewPredictionAgent(agentID string, signer func([]byte) []byte) *PredictionAgent {
	return &PredictionAgent{newBase(agentID, signer)}
}

func (a *PredictionAgent) ProcessIncident(incident Incident) (*Recommendation, error) {
	confidence := 0.5
	urgency := incident.Severity
	if incident.Severity == SeverityCritical {
		confidence, urgency = 0.65, SeverityCritical
	}
	return a.newRecommendation(incident.IncidentID, "preemptive_scale_out", confidence, RiskLow,
		"heuristic cascade-risk estimate from severity and tags", urgency,
		map[string]any{"severity": string(incident.Severity)}), nil
}

// ResolutionAgent proposes the concrete remediation action a decided
// Proposal ultimately dispatches.
type ResolutionAgent struct{ baseAgent }

func NewResolutionAgent(agentID string, signer func([]byte) []byte) *ResolutionAgent {
	return &ResolutionAgent{newBase(agentID, signer)}
}

func (a *ResolutionAgent) ProcessIncident(incident Incident) (*Recommendation, error) {
	risk := RiskMedium
	if incident.Severity == SeverityCritical {
		risk = RiskHigh
	}
	return a.newRecommendation(incident.IncidentID, "restart_service", 0.7, risk,
		"default remediation for the detected signature", incident.Severity,
		map[string]any{"incident_id": incident.IncidentID}), nil
}

// MessageDrafter is the narrow view CommunicationAgent needs of an LLM
// gateway — duck-typed against external.LLMGateway's Invoke method so
// this package never imports internal/external (star topology,
// spec.md §9); *external.AnthropicGateway and *external.LocalGateway
// both satisfy it as-is.
type MessageDrafter interface {
	Invoke(ctx context.Context, modelID, prompt string, maxTokens int, temperature float64) (string, error)
}

// CommunicationAgent drafts the externally-visible status update for
// an incident; it never proposes remediation actions of its own.
type CommunicationAgent struct {
	baseAgent
	drafter MessageDrafter
	model   string
}

func NewCommunicationAgent(agentID string, signer func([]byte) []byte) *CommunicationAgent {
	return &CommunicationAgent{baseAgent: newBase(agentID, signer)}
}

// SetDrafter wires an LLMGateway-backed drafter in, mirroring the rest
// of this module's optional-collaborator pattern
// (eventstore.Store.SetReplicaWriter, audit.Store.SetAppendObserver).
// Left unset, ProcessIncident falls back to a templated message.
func (a *CommunicationAgent) SetDrafter(d MessageDrafter, modelID string) {
	a.drafter = d
	a.model = modelID
}

func (a *CommunicationAgent) ProcessIncident(incident Incident) (*Recommendation, error) {
	message := fmt.Sprintf("Incident %s (%s severity) is being investigated.", incident.IncidentID, incident.Severity)
	if a.drafter != nil {
		prompt := fmt.Sprintf(
			"Draft a one-sentence, calm stakeholder-facing status update for incident %q, titled %q, severity %s. "+
				"State only what is known; do not speculate about root cause or resolution time.",
			incident.IncidentID, incident.Title, incident.Severity)
		drafted, err := a.drafter.Invoke(context.Background(), a.model, prompt, 200, 0.2)
		if err != nil {
			logger.Warnw("communication agent: drafting failed, using templated message",
				logger.FieldIncidentID, incident.IncidentID, logger.FieldError, err)
		} else {
			message = drafted
		}
	}
	return a.newRecommendation(incident.IncidentID, "notify_stakeholders", 0.95, RiskLow,
		"status broadcast, no remediation implied", incident.Severity,
		map[string]any{"drafted_at": time.Now().UTC().Format(time.RFC3339), "message": message}), nil
}
