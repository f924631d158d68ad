package agent

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

// Runtime wraps a Capability with the ambient concerns every variant
// shares: a circuit breaker that opens after BreakerMaxFailures
// consecutive failures (it does not track a failure ratio over a
// window), a per-call deadline, and an exponential-backoff-with-jitter
// retry loop. None of these touch the variant's computation — they sit
// around it, per spec.md §4.4.
type Runtime struct {
	inner      Capability
	breaker    *gobreaker.CircuitBreaker[*Recommendation]
	timeout    time.Duration
	maxRetries int
	agentID    string
}

// RuntimeConfig tunes the breaker/timeout/retry envelope.
type RuntimeConfig struct {
	AgentID           string
	CallTimeout       time.Duration
	MaxRetries        int
	BreakerMaxFailures uint32 // consecutive failures before opening
}

// NewRuntime wraps inner with a circuit breaker named after agentID,
// opening after BreakerMaxFailures consecutive failures and probing
// again after a cooldown — the classic closed/half-open/open machine
// spec.md §4.4 requires.
func NewRuntime(inner Capability, cfg RuntimeConfig) *Runtime {
	settings := gobreaker.Settings{
		Name:        cfg.AgentID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("agent circuit breaker state change",
				logger.FieldAgentID, name, "from", from.String(), "to", to.String())
		},
	}
	return &Runtime{
		inner:      inner,
		breaker:    gobreaker.NewCircuitBreaker[*Recommendation](settings),
		timeout:    cfg.CallTimeout,
		maxRetries: cfg.MaxRetries,
		agentID:    cfg.AgentID,
	}
}

// ProcessIncident runs the wrapped Capability under a deadline, retrying
// transient failures with exponential backoff+jitter, short-circuiting
// immediately while the breaker is open.
func (r *Runtime) ProcessIncident(ctx context.Context, incident Incident) (*Recommendation, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		rec, err := r.breaker.Execute(func() (*Recommendation, error) {
			return r.callWithDeadline(callCtx, incident)
		})
		cancel()

		if err == nil {
			return rec, nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, aerrors.Wrap(err, "agent.ProcessIncident", aerrors.KindCircuitOpen, "circuit open for "+r.agentID)
		}
		if aerrors.KindOf(err) == aerrors.KindAgentTimeout {
			// Only agent-timeout is treated as retryable; validation and
			// internal errors from the variant's own logic are not.
			if attempt < r.maxRetries {
				select {
				case <-time.After(util.Backoff(attempt, 100*time.Millisecond, 5*time.Second)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
		}
		break
	}
	return nil, lastErr
}

func (r *Runtime) callWithDeadline(ctx context.Context, incident Incident) (*Recommendation, error) {
	type result struct {
		rec *Recommendation
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := r.inner.ProcessIncident(incident)
		done <- result{rec, err}
	}()

	select {
	case res := <-done:
		return res.rec, res.err
	case <-ctx.Done():
		return nil, aerrors.New("agent.callWithDeadline", aerrors.KindAgentTimeout, "agent call exceeded deadline")
	}
}

// HandleMessage passes through to the wrapped Capability directly —
// message handling is lighter-weight than incident processing and
// doesn't warrant the same retry/breaker envelope.
func (r *Runtime) HandleMessage(msg Message) (*Message, error) {
	return r.inner.HandleMessage(msg)
}

// HealthCheck reports the wrapped Capability's self-assessed health.
func (r *Runtime) HealthCheck() bool {
	return r.inner.HealthCheck()
}
