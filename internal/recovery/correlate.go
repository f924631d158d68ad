package recovery

import (
	"strings"
	"sync"
	"time"
)

// correlationWindow mirrors the Python port's 300-second window.
const correlationWindow = 5 * time.Minute

// historyLimit bounds memory the way the Python port's error_history[-50:]
// slice does — only the most recent errors are ever worth correlating
// against.
const historyLimit = 50

// Correlator keeps a bounded, time-ordered history of ErrorContexts and
// finds which recent ones a new failure correlates with: same
// component, same error type, or same incident, all within
// correlationWindow.
type Correlator struct {
	mu      sync.Mutex
	history []ErrorContext
	now     func() time.Time
}

// NewCorrelator builds an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{now: time.Now}
}

// Record appends ec to the history, trimming to historyLimit, and
// returns the ErrorIDs of every recent error it correlates with.
func (c *Correlator) Record(ec ErrorContext) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var correlated []string
	for _, recent := range c.history {
		if now.Sub(recent.Timestamp) >= correlationWindow {
			continue
		}
		if recent.Component == ec.Component ||
			recent.ErrorType == ec.ErrorType ||
			(recent.IncidentID != "" && recent.IncidentID == ec.IncidentID) {
			correlated = append(correlated, recent.ErrorID)
		}
	}

	c.history = append(c.history, ec)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}

	return correlated
}

// RecentAgentFailures counts high/critical-severity errors from a
// component whose name contains "agent", recorded within the last 5
// minutes — the
// "multiple_agent_failures" escalation trigger's condition.
func (c *Correlator) RecentAgentFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for _, ec := range c.history {
		if now.Sub(ec.Timestamp) >= correlationWindow {
			continue
		}
		if !isAgentComponent(ec.Component) {
			continue
		}
		if ec.Severity == SeverityHigh || ec.Severity == SeverityCritical {
			count++
		}
	}
	return count
}

func isAgentComponent(component string) bool {
	return strings.Contains(strings.ToLower(component), "agent")
}
