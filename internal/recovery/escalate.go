package recovery

import (
	"context"
	"strings"
	"time"
)

// Escalator notifies a human when automated recovery can't make safe
// progress. Defined locally rather than importing
// internal/coordinator's Escalator so this package stays a leaf in the
// star topology — internal/coordinator is free to depend on
// internal/recovery, never the other way around.
type Escalator interface {
	Escalate(ctx context.Context, ec ErrorContext, trigger EscalationTrigger) error
}

// DefaultTriggers returns the three escalation triggers ported from
// _examples/original_source/simple_deployment/src/services/
// error_handling_recovery.py: a critical failure in a "system"
// component, 3+ correlated agent failures in the correlation window,
// and 5+ failed recoveries overall. Delays and notification channels
// match that file exactly.
func DefaultTriggers() []EscalationTrigger {
	return []EscalationTrigger{
		{
			TriggerID:            "critical_system_failure",
			EscalationLevel:      "senior_sre",
			NotificationChannels: []string{"pagerduty", "slack", "email"},
			AutoEscalationDelay:  time.Minute,
			Condition: func(ec ErrorContext, _ RecentCounts) bool {
				return ec.Severity == SeverityCritical && strings.Contains(strings.ToLower(ec.Component), "system")
			},
		},
		{
			TriggerID:            "multiple_agent_failures",
			EscalationLevel:      "incident_commander",
			NotificationChannels: []string{"pagerduty", "slack"},
			AutoEscalationDelay:  2 * time.Minute,
			Condition: func(_ ErrorContext, recent RecentCounts) bool {
				return recent.CorrelatedAgentFailures >= 3
			},
		},
		{
			TriggerID:            "recovery_failure_cascade",
			EscalationLevel:      "engineering_manager",
			NotificationChannels: []string{"pagerduty", "slack", "email"},
			AutoEscalationDelay:  3 * time.Minute,
			Condition: func(_ ErrorContext, recent RecentCounts) bool {
				return recent.FailedRecoveries >= 5
			},
		},
	}
}
