package recovery

import (
	"context"

	"github.com/aegisflow/aegis/internal/audit"
)

// AuditEscalator appends every escalation to the Audit & Retention
// sink's system stream, satisfying the mandatory leg of "escalation
// posts to the Audit & Retention sink" (SPEC_FULL.md §4.7) — unlike
// SlackEscalator this is never optional, so it's typically the first
// entry wrapped by a MultiEscalator alongside whatever notification
// channel is configured.
type AuditEscalator struct {
	store *audit.Store
}

// NewAuditEscalator wraps an audit.Store.
func NewAuditEscalator(store *audit.Store) *AuditEscalator {
	return &AuditEscalator{store: store}
}

// Escalate satisfies Escalator.
func (e *AuditEscalator) Escalate(ctx context.Context, ec ErrorContext, trigger EscalationTrigger) error {
	detail := map[string]any{
		"error_id":       ec.ErrorID,
		"error_type":     ec.ErrorType,
		"error_message":  ec.ErrorMessage,
		"severity":       string(ec.Severity),
		"trigger_id":     trigger.TriggerID,
		"escalation_lvl": trigger.EscalationLevel,
		"channels":       trigger.NotificationChannels,
		"incident_id":    ec.IncidentID,
		"correlation_id": ec.CorrelationID,
	}
	stream := audit.StreamSystem
	if ec.IncidentID != "" {
		stream = "incident:" + ec.IncidentID
	}
	_, err := e.store.Append(ctx, stream, "escalation."+trigger.TriggerID, "recovery.System", ec.Component, "escalated", audit.LevelCritical, detail)
	return err
}
