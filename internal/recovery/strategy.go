package recovery

import "strings"

// SelectStrategy is the pure decision function behind strategy
// selection, ported from the Python _determine_recovery_strategy:
// critical severity always escalates; component-specific rules come
// next (agent timeout → retry-by-restart, agent non-timeout → degrade,
// service → retry, circuit_breaker component → reset); 3+ correlations
// escalate regardless of component; everything else degrades
// gracefully rather than failing closed.
func SelectStrategy(ec ErrorContext, correlationCount int) Strategy {
	if ec.Severity == SeverityCritical {
		return StrategyHumanEscalation
	}

	c := strings.ToLower(ec.Component)

	if strings.Contains(c, "agent") {
		if strings.Contains(strings.ToLower(ec.ErrorType), "timeout") {
			return StrategyRetry
		}
		return StrategyGracefulDegradation
	}

	if strings.Contains(c, "service") {
		return StrategyRetry
	}

	if strings.Contains(c, "circuit_breaker") || strings.Contains(c, "circuitbreaker") {
		return StrategyCircuitBreakerReset
	}

	if correlationCount >= 3 {
		return StrategyHumanEscalation
	}

	return StrategyGracefulDegradation
}
