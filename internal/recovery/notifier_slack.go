package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/aegisflow/aegis/pkg/logger"
)

// SlackEscalator posts escalation context to a Slack channel,
// supplementing the distilled spec with the notification_channels
// feature from _examples/original_source/simple_deployment/src/
// services/error_handling_recovery.py (which lists "slack" alongside
// "pagerduty"/"email" — this module implements the Slack leg only, per
// the module's external-interfaces boundary; paging/email are left to
// whatever on-call tool consumes the same Escalate call via a
// different Escalator implementation).
type SlackEscalator struct {
	client  *slack.Client
	channel string
}

// NewSlackEscalator wraps an already-authenticated Slack client,
// posting every escalation to channel (a channel ID or name the bot
// token has joined).
func NewSlackEscalator(client *slack.Client, channel string) *SlackEscalator {
	return &SlackEscalator{client: client, channel: channel}
}

// Escalate satisfies Escalator.
func (e *SlackEscalator) Escalate(ctx context.Context, ec ErrorContext, trigger EscalationTrigger) error {
	text := formatEscalationMessage(ec, trigger)
	_, _, err := e.client.PostMessageContext(ctx, e.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("recovery.SlackEscalator.Escalate: %w", err)
	}
	logger.Infow("recovery: escalation posted to slack", "trigger_id", trigger.TriggerID, "channel", e.channel, "error_id", ec.ErrorID)
	return nil
}

func formatEscalationMessage(ec ErrorContext, trigger EscalationTrigger) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s* escalation (%s)\n", trigger.TriggerID, trigger.EscalationLevel)
	fmt.Fprintf(&b, "> error: `%s` (%s) in `%s`, severity=%s\n", ec.ErrorID, ec.ErrorType, ec.Component, ec.Severity)
	if ec.IncidentID != "" {
		fmt.Fprintf(&b, "> incident: `%s`\n", ec.IncidentID)
	}
	fmt.Fprintf(&b, "> %s\n", ec.ErrorMessage)
	return b.String()
}
