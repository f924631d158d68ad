// Package recovery classifies failures, correlates them with recent
// ones from the same component/error kind/incident over a sliding
// window, selects a recovery strategy, executes it with its own
// retry bound and fallback, and escalates to a human when automated
// recovery can't make safe progress.
//
// Grounded on _examples/original_source/simple_deployment/src/services/
// error_handling_recovery.py: ErrorSeverity and RecoveryStrategy below
// carry over that file's enum values, the correlation window is the
// same 300 seconds, and the escalation trigger thresholds (critical
// severity, 3 correlated agent failures, 5 failed recoveries) and their
// per-trigger auto-escalation delays are ported unchanged. Classification
// itself is re-expressed idiomatically: the Python dispatches on
// exception type; this port dispatches on pkg/errors.Kind and the
// failing component's name, since that's the taxonomy the rest of this
// module already classifies failures into.
package recovery

import (
	"context"
	"time"
)

// Severity is an error's assessed severity, independent of the
// originating Incident's own severity field.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy is a recovery strategy.
type Strategy string

const (
	StrategyRetry               Strategy = "retry"
	StrategyFallback            Strategy = "fallback"
	StrategyGracefulDegradation Strategy = "graceful_degradation"
	StrategyCircuitBreakerReset Strategy = "circuit_breaker_reset"
	StrategyHumanEscalation     Strategy = "human_escalation"
	StrategySystemRestart       Strategy = "system_restart"
)

// ErrorContext is the full record of one failure: enough to classify
// it, correlate it with others, retry it, and hand complete context to
// a human if it escalates.
type ErrorContext struct {
	ErrorID       string
	Timestamp     time.Time
	ErrorType     string // e.g. "agent_timeout", "consensus_timeout" — pkg/errors.Kind.String()
	ErrorMessage  string
	Component     string // "agent.detection", "consensus", "eventstore", ...
	Severity      Severity
	ContextData   map[string]any
	CorrelationID string
	IncidentID    string
}

// RecoveryAction binds one strategy to the function that carries it
// out, its retry bound and timeout, and an optional fallback action to
// try once this one's attempts are exhausted.
type RecoveryAction struct {
	ActionID        string
	Strategy        Strategy
	Run             func(ctx context.Context, ec ErrorContext) (map[string]any, error)
	MaxAttempts     int
	Timeout         time.Duration
	SuccessCriteria func(result map[string]any) bool
	FallbackAction  string // ActionID, or "" for none
}

// EscalationTrigger fires human escalation once its Condition holds
// for an ErrorContext, after AutoEscalationDelay.
type EscalationTrigger struct {
	TriggerID            string
	EscalationLevel      string
	NotificationChannels []string
	AutoEscalationDelay  time.Duration
	Condition            func(ec ErrorContext, recent RecentCounts) bool
}

// RecentCounts is the sliding-window state an EscalationTrigger's
// Condition may need beyond the single ErrorContext it's evaluating.
type RecentCounts struct {
	CorrelatedAgentFailures int
	FailedRecoveries        int
}

// Result is handle_error's return value: what was classified, what
// recovery was attempted, and whether escalation fired.
type Result struct {
	ErrorID           string
	Severity          Severity
	Strategy          Strategy
	RecoverySucceeded bool
	Attempts          int
	Reason            string // set on failure: "unknown_strategy", "max_attempts_exceeded"
	EscalationFired   bool
}
