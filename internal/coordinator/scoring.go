package coordinator

import (
	"sort"

	"github.com/aegisflow/aegis/internal/agent"
)

// Scorer ranks candidate Recommendations and picks the one to propose
// for consensus.
type Scorer interface {
	Best(incident agent.Incident, recs []agent.Recommendation) *agent.Recommendation
}

// DefaultScorer implements the composite formula decided for spec.md
// §4.5's "coordinator proposes the highest-scored" step (an Open
// Question spec.md left unresolved): 0.5 * confidence + 0.3 *
// risk_fit + 0.2 * historical_success, where risk_fit rewards a
// Recommendation whose risk is proportionate to the incident's
// severity (a "restart_service" at low risk for a critical incident
// scores worse than one sized to match), and historical_success comes
// from a HistoricalSuccessLookup when configured (0.5 — neutral —
// otherwise). Ties break by lowest estimated business impact, then by
// action_id, so Best is a pure, deterministic function of its inputs.
type DefaultScorer struct {
	History HistoricalSuccessLookup
}

// HistoricalSuccessLookup reports the fraction (0..1) of past actions
// of the given type that succeeded for incidents of the given
// severity. Implemented by internal/routing's Dispatcher, which
// tracks per-action-type/per-class outcome counters.
type HistoricalSuccessLookup interface {
	SuccessRate(actionType string, severity agent.Severity) (rate float64, known bool)
}

func (s DefaultScorer) Best(incident agent.Incident, recs []agent.Recommendation) *agent.Recommendation {
	if len(recs) == 0 {
		return nil
	}

	type scored struct {
		rec       agent.Recommendation
		composite float64
		impact    float64
	}
	candidates := make([]scored, 0, len(recs))
	for _, r := range recs {
		candidates = append(candidates, scored{
			rec:       r,
			composite: s.composite(incident, r),
			impact:    businessImpact(r),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].composite != candidates[j].composite {
			return candidates[i].composite > candidates[j].composite
		}
		if candidates[i].impact != candidates[j].impact {
			return candidates[i].impact < candidates[j].impact
		}
		return candidates[i].rec.ActionID < candidates[j].rec.ActionID
	})

	best := candidates[0].rec
	return &best
}

func (s DefaultScorer) composite(incident agent.Incident, r agent.Recommendation) float64 {
	historical := 0.5
	if s.History != nil {
		if rate, known := s.History.SuccessRate(r.ActionType, incident.Severity); known {
			historical = rate
		}
	}
	return 0.5*r.Confidence + 0.3*riskFit(incident.Severity, r.RiskLevel) + 0.2*historical
}

// riskFit scores how proportionate a Recommendation's risk is to the
// incident's severity: matching a critical incident with a high-risk
// (commensurately aggressive) action scores 1.0, while a mismatch in
// either direction scores lower.
func riskFit(severity agent.Severity, risk agent.RiskLevel) float64 {
	sev := severityRank(severity)
	rk := riskRank(risk)
	diff := sev - rk
	if diff < 0 {
		diff = -diff
	}
	switch diff {
	case 0:
		return 1.0
	case 1:
		return 0.6
	case 2:
		return 0.3
	default:
		return 0.1
	}
}

func severityRank(s agent.Severity) int {
	switch s {
	case agent.SeverityLow:
		return 0
	case agent.SeverityMedium:
		return 1
	case agent.SeverityHigh:
		return 2
	case agent.SeverityCritical:
		return 3
	default:
		return 1
	}
}

func riskRank(r agent.RiskLevel) int {
	switch r {
	case agent.RiskLow:
		return 0
	case agent.RiskMedium:
		return 1
	case agent.RiskHigh:
		return 2
	case agent.RiskCritical:
		return 3
	default:
		return 1
	}
}

// businessImpact estimates blast radius for the tie-break rule
// ("lowest estimated business impact"), derived from risk level since
// Recommendation carries no separate impact field.
func businessImpact(r agent.Recommendation) float64 {
	return float64(riskRank(r.RiskLevel))
}
