package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

// System is the stateful half of this package: the Correlator, the
// registered RecoveryActions, per-strategy outcome statistics, and the
// escalation triggers, wired together by Handle. The classification
// (classify.go) and strategy-selection (strategy.go) logic it calls
// stay pure and independently testable, the idiom this module uses
// throughout (see internal/coordinator/scoring.go,
// internal/routing/strategy.go).
type System struct {
	mu sync.Mutex

	correlator       *Correlator
	actions          map[string]*RecoveryAction
	strategyAction   map[Strategy]string
	stats            map[Strategy]*strategyStats
	activeCount      int
	failedRecoveries int

	triggers  []EscalationTrigger
	escalator Escalator

	now func() time.Time
}

// NewSystem builds a System with no registered actions or triggers —
// callers wire in RegisterAction and RegisterTriggers (or DefaultTriggers)
// before calling Handle.
func NewSystem(escalator Escalator) *System {
	return &System{
		correlator:     NewCorrelator(),
		actions:        make(map[string]*RecoveryAction),
		strategyAction: make(map[Strategy]string),
		stats:          make(map[Strategy]*strategyStats),
		escalator:      escalator,
		now:            time.Now,
	}
}

// RegisterAction adds action to the registry and makes it the action
// run whenever SelectStrategy picks action.Strategy (last registration
// for a given Strategy wins, mirroring the Python port's dict
// assignment in _initialize_recovery_actions).
func (s *System) RegisterAction(action RecoveryAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.SuccessCriteria == nil {
		action.SuccessCriteria = defaultSuccessCriteria
	}
	a := action
	s.actions[a.ActionID] = &a
	s.strategyAction[a.Strategy] = a.ActionID
}

// RegisterTriggers appends triggers to the set Handle checks after
// every recovery attempt.
func (s *System) RegisterTriggers(triggers ...EscalationTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, triggers...)
}

// Handle classifies err, correlates it with recent failures, executes
// the selected recovery strategy, and schedules escalation for any
// trigger whose condition now holds. Mirrors handle_error end to end.
func (s *System) Handle(ctx context.Context, err error, component string, contextData map[string]any, correlationID, incidentID string) Result {
	kind := aerrors.KindOf(err)
	ec := ErrorContext{
		ErrorID:       fmt.Sprintf("err_%d_%s", s.now().UnixNano(), kind.String()),
		Timestamp:     s.now(),
		ErrorType:     kind.String(),
		ErrorMessage:  err.Error(),
		Component:     component,
		Severity:      ClassifySeverity(component, kind),
		ContextData:   contextData,
		CorrelationID: correlationID,
		IncidentID:    incidentID,
	}

	correlated := s.correlator.Record(ec)
	if len(correlated) > 0 {
		logger.Warnw("recovery: correlated failure detected", "error_id", ec.ErrorID, "correlated_count", len(correlated))
	}

	strategy := SelectStrategy(ec, len(correlated))
	logger.Infow("recovery: handling failure", "error_id", ec.ErrorID, "component", component, "severity", ec.Severity, "strategy", strategy)

	result := s.execute(ctx, ec, strategy)
	result.EscalationFired = s.checkEscalationTriggers(ctx, ec)
	return result
}

// checkEscalationTriggers schedules (via pkg/util.SafeGo, so a
// misbehaving notifier can never take down the caller) an escalation
// for every trigger whose condition holds, after that trigger's
// AutoEscalationDelay. Returns whether any trigger fired.
func (s *System) checkEscalationTriggers(ctx context.Context, ec ErrorContext) bool {
	if s.escalator == nil {
		return false
	}

	recent := RecentCounts{
		CorrelatedAgentFailures: s.correlator.RecentAgentFailures(),
		FailedRecoveries:        s.readFailedRecoveries(),
	}

	fired := false
	for _, trigger := range s.triggers {
		if !trigger.Condition(ec, recent) {
			continue
		}
		fired = true
		trigger := trigger
		logger.Errorw("recovery: escalation trigger activated", "trigger_id", trigger.TriggerID, "error_id", ec.ErrorID, "delay", trigger.AutoEscalationDelay)
		util.SafeGo(func() {
			select {
			case <-time.After(trigger.AutoEscalationDelay):
			case <-ctx.Done():
				return
			}
			if err := s.escalator.Escalate(context.Background(), ec, trigger); err != nil {
				logger.Errorw("recovery: escalation notification failed", "trigger_id", trigger.TriggerID, "error", err)
			}
		})
	}
	return fired
}

func (s *System) readFailedRecoveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedRecoveries
}
