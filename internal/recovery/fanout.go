package recovery

import (
	"context"

	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

// MultiEscalator fans one escalation out to every wrapped Escalator
// concurrently (via pkg/util.SafeGo, so one notifier's panic can't take
// down another's) and succeeds as long as at least one does — an
// unreachable Slack workspace must never suppress the audit-log entry,
// and vice versa.
type MultiEscalator struct {
	escalators []Escalator
}

// NewMultiEscalator wraps escalators, skipping any nil entry so
// callers can pass an optional notifier (e.g. Slack) unconditionally.
func NewMultiEscalator(escalators ...Escalator) *MultiEscalator {
	live := make([]Escalator, 0, len(escalators))
	for _, e := range escalators {
		if e != nil {
			live = append(live, e)
		}
	}
	return &MultiEscalator{escalators: live}
}

// Escalate satisfies Escalator.
func (m *MultiEscalator) Escalate(ctx context.Context, ec ErrorContext, trigger EscalationTrigger) error {
	if len(m.escalators) == 0 {
		return nil
	}

	results := make(chan error, len(m.escalators))
	for _, e := range m.escalators {
		e := e
		util.SafeGo(func() {
			results <- e.Escalate(ctx, ec, trigger)
		})
	}

	var succeeded bool
	var lastErr error
	for range m.escalators {
		if err := <-results; err != nil {
			lastErr = err
			logger.Warnw("recovery: one escalator failed", "trigger_id", trigger.TriggerID, logger.FieldError, err)
		} else {
			succeeded = true
		}
	}
	if succeeded {
		return nil
	}
	return lastErr
}
