package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

type strategyStats struct {
	success int
	failed  int
}

// backoffBase/backoffMax bound the inter-attempt wait the Python
// port's await asyncio.sleep(2 ** attempt) approximates with a fixed
// exponential — here replaced with pkg/util.Backoff's jittered
// exponential, consistent with every other retry loop in this module.
const (
	backoffBase = 200 * time.Millisecond
	backoffMax  = 10 * time.Second
)

// execute runs the RecoveryAction registered for strategy against ec,
// retrying up to its MaxAttempts with a per-attempt timeout, falling
// through to its FallbackAction on exhaustion. Mirrors
// _execute_recovery's attempt loop and fallback chaining.
func (s *System) execute(ctx context.Context, ec ErrorContext, strategy Strategy) Result {
	actionID, ok := s.strategyAction[strategy]
	if !ok {
		logger.Errorw("recovery: no action registered for strategy", "strategy", strategy)
		return Result{ErrorID: ec.ErrorID, Severity: ec.Severity, Strategy: strategy, Reason: "unknown_strategy"}
	}
	action, ok := s.actions[actionID]
	if !ok {
		logger.Errorw("recovery: unregistered action id", "action_id", actionID)
		return Result{ErrorID: ec.ErrorID, Severity: ec.Severity, Strategy: strategy, Reason: "unknown_strategy"}
	}

	s.trackActive(1)
	defer s.trackActive(-1)

	for attempt := 0; attempt < action.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, action.Timeout)
		result, err := action.Run(attemptCtx, ec)
		cancel()

		if err == nil && action.SuccessCriteria(result) {
			s.recordOutcome(strategy, true)
			logger.Infow("recovery succeeded", "error_id", ec.ErrorID, "strategy", strategy, "attempts", attempt+1)
			return Result{ErrorID: ec.ErrorID, Severity: ec.Severity, Strategy: strategy, RecoverySucceeded: true, Attempts: attempt + 1}
		}

		logger.Warnw("recovery attempt failed", "error_id", ec.ErrorID, "strategy", strategy, "attempt", attempt+1, "error", err)

		if attempt < action.MaxAttempts-1 {
			select {
			case <-time.After(util.Backoff(attempt, backoffBase, backoffMax)):
			case <-ctx.Done():
				return Result{ErrorID: ec.ErrorID, Severity: ec.Severity, Strategy: strategy, Attempts: attempt + 1, Reason: "context_cancelled"}
			}
		}
	}

	s.recordOutcome(strategy, false)

	if action.FallbackAction != "" {
		fallback, ok := s.actions[action.FallbackAction]
		if ok {
			logger.Infow("recovery: attempting fallback", "error_id", ec.ErrorID, "from_strategy", strategy, "to_strategy", fallback.Strategy)
			return s.execute(ctx, ec, fallback.Strategy)
		}
	}

	return Result{ErrorID: ec.ErrorID, Severity: ec.Severity, Strategy: strategy, Attempts: action.MaxAttempts, Reason: "max_attempts_exceeded"}
}

func (s *System) recordOutcome(strategy Strategy, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[strategy]
	if !ok {
		st = &strategyStats{}
		s.stats[strategy] = st
	}
	if success {
		st.success++
	} else {
		st.failed++
		s.failedRecoveries++
	}
}

func (s *System) trackActive(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCount += delta
}

func defaultSuccessCriteria(result map[string]any) bool {
	v, ok := result["status"]
	return ok && fmt.Sprint(v) == "success"
}
