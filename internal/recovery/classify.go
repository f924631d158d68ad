package recovery

import (
	"strings"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// ClassifySeverity maps a failing component and the pkg/errors.Kind it
// failed with to a Severity, the Go-idiomatic equivalent of the Python
// port's isinstance(error, ...) dispatch — this codebase already
// classifies every failure into a Kind, so that replaces exception
// type as the dispatch key.
func ClassifySeverity(component string, kind aerrors.Kind) Severity {
	c := strings.ToLower(component)

	switch kind {
	case aerrors.KindByzantineDetected, aerrors.KindQuorumUnavailable, aerrors.KindCorruption, aerrors.KindHumanEscalationRequired:
		return SeverityCritical
	}

	if strings.Contains(c, "agent") {
		switch kind {
		case aerrors.KindAgentTimeout:
			return SeverityHigh
		case aerrors.KindCircuitOpen:
			return SeverityMedium
		}
	}

	if strings.Contains(c, "consensus") || strings.Contains(c, "coordinator") {
		return SeverityHigh
	}

	if strings.Contains(c, "database") || strings.Contains(c, "storage") || strings.Contains(c, "eventstore") {
		return SeverityHigh
	}

	switch kind {
	case aerrors.KindValidation:
		return SeverityLow
	case aerrors.KindStorageUnavailable, aerrors.KindConsensusTimeout, aerrors.KindOverload, aerrors.KindAllFallbacksExhausted:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}
