package recovery

import (
	"context"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// CoordinatorAdapter satisfies coordinator.Escalator (structurally —
// this package never imports internal/coordinator, keeping it a leaf
// in the star topology) by routing the Coordinator's
// Escalate(incidentID, reason) calls through this System's full
// classify/correlate/escalate flow instead of a bare notification, so
// a coordinator-driven escalation shows up in the same correlation
// history and trigger counts as every other recovery failure.
type CoordinatorAdapter struct {
	system    *System
	component string
}

// NewCoordinatorAdapter wraps system for the Coordinator's Escalator
// dependency; component labels every escalation this adapter produces
// for classification and correlation. Pass a component containing
// "system" (e.g. "system.coordinator") so the critical_system_failure
// trigger's component condition — ported unchanged from
// error_handling_recovery.py — actually matches; every
// KindHumanEscalationRequired error already classifies Critical.
func NewCoordinatorAdapter(system *System, component string) *CoordinatorAdapter {
	return &CoordinatorAdapter{system: system, component: component}
}

// Escalate satisfies coordinator.Escalator.
func (a *CoordinatorAdapter) Escalate(ctx context.Context, incidentID, reason string) error {
	err := aerrors.New("coordinator.Escalate", aerrors.KindHumanEscalationRequired, reason)
	result := a.system.Handle(ctx, err, a.component, map[string]any{"reason": reason}, "", incidentID)
	if !result.EscalationFired {
		// Human-escalation-required errors always classify critical and
		// should always trip a trigger; surfacing this instead of
		// silently swallowing it catches a misconfigured trigger set.
		return aerrors.New("coordinator.Escalate", aerrors.KindInternal, "no escalation trigger fired for a human-escalation-required error")
	}
	return nil
}
