// Package remediation carries out a consensus-decided action against
// the resolution agent that proposed it.
//
// Grounded on the teacher's internal/orchestrator/gateway.go Gateway.Execute
// (a logged dispatch returning a plain result string); real per-cloud
// remediation wiring (restarting a Kubernetes deployment, rolling back
// a release) is an explicit spec non-goal, so Executor's job ends at
// replaying the decided Recommendation through the owning replica's
// agent.Runtime and reporting what it said.
package remediation

import (
	"context"
	"fmt"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/coordinator"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
)

// Runner carries out one action and reports success. Separated from
// *agent.Runtime so tests can substitute a deterministic stub without
// building a real Capability.
type Runner interface {
	Run(ctx context.Context, action agent.Recommendation) (string, error)
}

// RuntimeRunner adapts an *agent.Runtime (the resolution agent that
// proposed the decided action) into a Runner by replaying the action
// as a HandleMessage "execute" call.
type RuntimeRunner struct {
	Runtime *agent.Runtime
}

func (r RuntimeRunner) Run(_ context.Context, action agent.Recommendation) (string, error) {
	reply, err := r.Runtime.HandleMessage(agent.Message{
		Type: "execute",
		From: "coordinator",
		To:   action.AgentID,
		Payload: map[string]any{
			"action_id":   action.ActionID,
			"action_type": action.ActionType,
			"parameters":  action.Parameters,
		},
	})
	if err != nil {
		return "", err
	}
	if reply == nil {
		return "dispatched", nil
	}
	return reply.Type, nil
}

// Executor satisfies coordinator.ActionExecutor: look up the runner
// for the decided action's action type and run it under the
// Coordinator's lease.
type Executor struct {
	runners  map[string]Runner
	fallback Runner
}

// NewExecutor builds an Executor with no runners registered; actions
// whose action type has none and with no fallback set fail closed with
// KindInternal, the same "nothing can act on this" posture the
// teacher's Gateway.Execute TODO leaves for unimplemented task kinds.
func NewExecutor() *Executor {
	return &Executor{runners: make(map[string]Runner)}
}

// Register wires actionType's Runner.
func (e *Executor) Register(actionType string, runner Runner) {
	e.runners[actionType] = runner
}

// SetFallback wires the Runner used for any action type with no
// specific registration — the resolution agent's Runtime covers the
// general case, with specific runners reserved for action types that
// need bespoke handling.
func (e *Executor) SetFallback(runner Runner) {
	e.fallback = runner
}

// Execute satisfies coordinator.ActionExecutor.
func (e *Executor) Execute(ctx context.Context, action agent.Recommendation, lease *coordinator.Lease) (string, error) {
	runner, ok := e.runners[action.ActionType]
	if !ok {
		runner = e.fallback
	}
	if runner == nil {
		return "", aerrors.New("remediation.Executor.Execute", aerrors.KindInternal, "no runner registered for action type "+action.ActionType)
	}

	logger.Infow("remediation: executing decided action",
		logger.FieldActionID, action.ActionID, "action_type", action.ActionType, "lease_key", lease.Key())

	outcome, err := runner.Run(ctx, action)
	if err != nil {
		return "", aerrors.Wrap(err, "remediation.Executor.Execute", aerrors.KindOf(err), fmt.Sprintf("action %s failed", action.ActionType))
	}
	return outcome, nil
}
