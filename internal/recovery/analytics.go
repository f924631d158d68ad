package recovery

// Analytics is a point-in-time summary of recovery health, ported from
// the Python port's get_error_analytics — supplementing the distilled
// spec, which only names the recovery flow itself and not an
// introspection surface, with the original's per-strategy success/
// failure rollup.
type Analytics struct {
	ActiveRecoveries int
	PerStrategy      map[Strategy]StrategyAnalytics
}

// StrategyAnalytics is one strategy's accumulated outcome counts.
type StrategyAnalytics struct {
	Successes int
	Failures  int
}

// SuccessRate returns successes/(successes+failures), or 100 if the
// strategy has never been attempted (mirrors the Python port's
// "100.0 if total_attempts == 0" default — no attempts means nothing
// has failed, not that everything has).
func (a StrategyAnalytics) SuccessRate() float64 {
	total := a.Successes + a.Failures
	if total == 0 {
		return 100.0
	}
	return float64(a.Successes) / float64(total) * 100.0
}

// Analytics snapshots the System's current recovery statistics.
func (s *System) Analytics() Analytics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Analytics{
		ActiveRecoveries: s.activeCount,
		PerStrategy:      make(map[Strategy]StrategyAnalytics, len(s.stats)),
	}
	for strategy, st := range s.stats {
		out.PerStrategy[strategy] = StrategyAnalytics{Successes: st.success, Failures: st.failed}
	}
	return out
}
