package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/internal/consensus"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
)

// Event type strings appended to the Event Store across the seven
// steps of the incident-handling protocol.
const (
	EventCreated          = "CREATED"
	EventRecommendation   = "RECOMMENDATION"
	EventAllActionsFailed = "ALL_ACTIONS_FAILED"
	EventConsensusDecided = "CONSENSUS_DECIDED"
	EventActionStarted    = "ACTION_STARTED"
	EventActionSucceeded  = "ACTION_SUCCEEDED"
	EventActionFailed     = "ACTION_FAILED"
	EventResolved         = "RESOLVED"
	EventEscalated        = "ESCALATED"
)

// Config bounds the per-incident flow: which agent types must answer,
// how long each step may take, and how many rollback rounds to try.
// The concurrency budget lives in the Backpressure passed to New.
type Config struct {
	RequiredAgentTypes []RequiredAgentType
	PerAgentTimeout    time.Duration
	ConsensusTimeout   time.Duration
	MaxRollbackRounds  int
}

// Coordinator drives one Incident end-to-end per spec.md §4.5,
// grounded on internal/orchestrator/master.go's State-switch "tick"
// shape but run procedurally to completion rather than polled.
type Coordinator struct {
	events    EventAppender
	dispatch  AgentDispatcher
	consensus ConsensusDriver
	execute   ActionExecutor
	escalate  Escalator
	scorer    Scorer
	leases    *LeaseManager
	backpress *Backpressure
	cfg       Config
	now       clock
}

// New builds a Coordinator. All five dependencies are narrow
// interfaces per spec.md §9 — the Coordinator never imports
// internal/routing or internal/recovery's concrete types.
func New(events EventAppender, dispatch AgentDispatcher, cd ConsensusDriver, execute ActionExecutor, escalate Escalator, backpress *Backpressure, cfg Config) *Coordinator {
	if cfg.MaxRollbackRounds <= 0 {
		cfg.MaxRollbackRounds = 1
	}
	return &Coordinator{
		events:    events,
		dispatch:  dispatch,
		consensus: cd,
		execute:   execute,
		escalate:  escalate,
		scorer:    DefaultScorer{},
		leases:    NewLeaseManager(),
		backpress: backpress,
		cfg:       cfg,
		now:       systemClock,
	}
}

// HandleIncident runs the full NEW -> ... -> RESOLVED/ESCALATED/FAILED
// flow for one Incident and returns the final Snapshot.
func (c *Coordinator) HandleIncident(ctx context.Context, incident agent.Incident) (*Snapshot, error) {
	release, err := c.backpress.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap := &Snapshot{
		IncidentID: incident.IncidentID,
		Status:     agent.IncidentNew,
		State:      StateNew,
		Tags:       incident.Tags,
		UpdatedAt:  c.now(),
	}

	var version uint64
	version, err = c.appendStep(ctx, incident.IncidentID, version, EventCreated, map[string]any{
		"severity": string(incident.Severity),
		"title":    incident.Title,
		"tags":     incident.Tags,
	})
	if err != nil {
		return snap, err
	}
	c.advance(snap, StateDispatched)

	recs, dispatchErr := c.collectRecommendations(ctx, incident, snap, &version)
	if dispatchErr != nil {
		c.escalateAndFail(ctx, incident.IncidentID, &version, snap, dispatchErr.Error())
		return snap, dispatchErr
	}
	c.advance(snap, StateAwaitingRecommendations)
	snap.Recommendations = recs

	for round := 0; round < c.cfg.MaxRollbackRounds; round++ {
		decided, action, err := c.runConsensusRound(ctx, incident, recs, snap, &version)
		if err != nil {
			c.escalateAndFail(ctx, incident.IncidentID, &version, snap, err.Error())
			return snap, err
		}
		if !decided {
			// ABORTED or timeout already handled inside runConsensusRound
			// via the error-recovery flow; nothing left to do.
			return snap, nil
		}

		snap.DecidedAction = action
		c.advance(snap, StateExecuting)

		outcome, execErr := c.executeDecidedAction(ctx, incident, *action, &version)
		if execErr == nil {
			snap.ExecutionResult = outcome
			c.advance(snap, StateResolved)
			snap.Status = agent.IncidentResolved
			if v, err := c.appendStep(ctx, incident.IncidentID, version, EventResolved, map[string]any{"outcome": outcome}); err == nil {
				version = v
			}
			return snap, nil
		}

		// Remove the failed action from contention and retry with the
		// next-best recommendation, per spec.md §4.5 step 7.
		recs = removeAction(recs, action.ActionID)
		if len(recs) == 0 {
			c.escalateAndFail(ctx, incident.IncidentID, &version, snap, "exhausted all candidate actions after rollback")
			return snap, execErr
		}
		logger.Warnw("coordinator: action failed, re-entering consensus with next-best", "incident_id", incident.IncidentID, "failed_action", action.ActionID, "round", round)
	}

	c.escalateAndFail(ctx, incident.IncidentID, &version, snap, "exceeded max rollback rounds")
	return snap, aerrors.New("coordinator.HandleIncident", aerrors.KindHumanEscalationRequired, "exceeded max rollback rounds")
}

func (c *Coordinator) appendStep(ctx context.Context, incidentID string, version uint64, eventType string, payload map[string]any) (uint64, error) {
	ev, err := c.events.Append(ctx, incidentID, eventType, payload, version)
	if err != nil {
		return version, aerrors.Wrap(err, "coordinator.appendStep", aerrors.KindOf(err), fmt.Sprintf("append %s failed", eventType))
	}
	return ev.Sequence, nil
}

func (c *Coordinator) advance(snap *Snapshot, to State) {
	if !canAdvance(snap.State, to) {
		logger.Warnw("coordinator: disallowed state transition attempted", "incident_id", snap.IncidentID, "from", snap.State, "to", to)
		return
	}
	snap.State = to
	snap.UpdatedAt = c.now()
}

// collectRecommendations dispatches to every required agent type,
// appending one RECOMMENDATION event per reply. A required type that
// exhausts its fallback chain raises ALL_ACTIONS_FAILED and aborts
// the incident.
func (c *Coordinator) collectRecommendations(ctx context.Context, incident agent.Incident, snap *Snapshot, version *uint64) ([]agent.Recommendation, error) {
	recs := make([]agent.Recommendation, 0, len(c.cfg.RequiredAgentTypes))
	for _, rt := range c.cfg.RequiredAgentTypes {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.PerAgentTimeout)
		rec, err := c.dispatch.Dispatch(dctx, rt.AgentType, incident)
		cancel()

		if err != nil {
			if !rt.Required {
				continue
			}
			v, appendErr := c.appendStep(ctx, incident.IncidentID, *version, EventAllActionsFailed, map[string]any{
				"agent_type": rt.AgentType,
				"reason":     err.Error(),
			})
			if appendErr == nil {
				*version = v
			}
			return nil, aerrors.Wrap(err, "coordinator.collectRecommendations", aerrors.KindAllFallbacksExhausted, "required agent type exhausted all fallbacks: "+rt.AgentType)
		}

		v, appendErr := c.appendStep(ctx, incident.IncidentID, *version, EventRecommendation, map[string]any{
			"agent_id":    rec.AgentID,
			"action_type": rec.ActionType,
			"confidence":  rec.Confidence,
			"risk_level":  string(rec.RiskLevel),
		})
		if appendErr != nil {
			return nil, appendErr
		}
		*version = v
		snap.Dispatched = append(snap.Dispatched, rt.AgentType)
		recs = append(recs, *rec)
	}
	return recs, nil
}

// runConsensusRound promotes the highest-scored Recommendation to a
// Proposal, drives it through the Consensus Engine, and appends the
// outcome. Returns decided=false (with no error) once the
// error-recovery/escalation path has already been taken.
func (c *Coordinator) runConsensusRound(ctx context.Context, incident agent.Incident, recs []agent.Recommendation, snap *Snapshot, version *uint64) (bool, *agent.Recommendation, error) {
	best := c.scorer.Best(incident, recs)
	if best == nil {
		return false, nil, aerrors.New("coordinator.runConsensusRound", aerrors.KindValidation, "no recommendations to propose")
	}

	c.advance(snap, StateConsensus)

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConsensusTimeout)
	defer cancel()

	proposal := consensus.Proposal{
		IncidentID: incident.IncidentID,
		ActionID:   best.ActionID,
		Payload: map[string]any{
			"action_type": best.ActionType,
			"agent_id":    best.AgentID,
			"risk_level":  string(best.RiskLevel),
		},
	}

	round, err := c.consensus.Decide(cctx, proposal)
	if err != nil || round == nil || round.Phase != consensus.PhaseDecided {
		reason := "consensus timed out"
		if err != nil {
			reason = err.Error()
		} else if round != nil {
			reason = "consensus aborted: " + string(round.Phase)
		}
		c.escalateAndFail(ctx, incident.IncidentID, version, snap, reason)
		return false, nil, nil
	}

	v, appendErr := c.appendStep(ctx, incident.IncidentID, *version, EventConsensusDecided, map[string]any{
		"action_id": best.ActionID,
		"view":      round.View,
		"sequence":  round.Sequence,
		"digest":    round.Digest,
	})
	if appendErr != nil {
		return false, nil, appendErr
	}
	*version = v
	return true, best, nil
}

func (c *Coordinator) executeDecidedAction(ctx context.Context, incident agent.Incident, action agent.Recommendation, version *uint64) (string, error) {
	lease := c.leases.Acquire(incident.IncidentID, action.ActionID)
	defer lease.Release()

	if v, err := c.appendStep(ctx, incident.IncidentID, *version, EventActionStarted, map[string]any{"action_id": action.ActionID}); err == nil {
		*version = v
	}

	outcome, err := c.execute.Execute(ctx, action, lease)
	if err != nil {
		if v, aerr := c.appendStep(ctx, incident.IncidentID, *version, EventActionFailed, map[string]any{"action_id": action.ActionID, "reason": err.Error()}); aerr == nil {
			*version = v
		}
		return "", err
	}

	if v, aerr := c.appendStep(ctx, incident.IncidentID, *version, EventActionSucceeded, map[string]any{"action_id": action.ActionID, "outcome": outcome}); aerr == nil {
		*version = v
	}
	return outcome, nil
}

func (c *Coordinator) escalateAndFail(ctx context.Context, incidentID string, version *uint64, snap *Snapshot, reason string) {
	c.advance(snap, StateEscalated)
	snap.Status = agent.IncidentFailed

	if v, err := c.appendStep(ctx, incidentID, *version, EventEscalated, map[string]any{"reason": reason}); err == nil {
		*version = v
	}
	if c.escalate != nil {
		notifyEscalation(ctx, c.escalate, incidentID, reason)
	}
}

func notifyEscalation(ctx context.Context, e Escalator, incidentID, reason string) {
	if err := e.Escalate(ctx, incidentID, reason); err != nil {
		logger.Warnw("coordinator: escalation notification failed", "incident_id", incidentID, "error", err)
	}
}

func removeAction(recs []agent.Recommendation, actionID string) []agent.Recommendation {
	out := make([]agent.Recommendation, 0, len(recs))
	for _, r := range recs {
		if r.ActionID != actionID {
			out = append(out, r)
		}
	}
	return out
}
