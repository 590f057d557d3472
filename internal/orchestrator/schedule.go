package orchestrator

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// cadence is how a workflow's next automatic run is computed.
type cadence struct {
	schedule cron.Schedule
	// fallback is set when the priority interval is used instead of the expression.
	fallback bool
}

// cadenceFor resolves the cadence for def. Results are cached per workflow;
// definitions are immutable apart from Enabled so the cache never goes stale.
// Caller must hold o.mu.
func (o *Orchestrator) cadenceFor(def *models.WorkflowDefinition) cadence {
	if c, ok := o.cadences[def.ID]; ok {
		return c
	}

	var c cadence
	expr := strings.TrimSpace(def.Schedule)
	if expr != "" {
		sched, err := cron.ParseStandard(expr)
		if err == nil {
			c = cadence{schedule: sched}
		} else {
			o.logger.Warn().
				Err(err).
				Str("workflow_id", def.ID).
				Str("schedule", expr).
				Msg("Unparseable schedule, using priority cadence")
		}
	}
	if c.schedule == nil {
		c = cadence{schedule: cron.Every(o.priorityInterval(def.Priority)), fallback: true}
	}

	o.cadences[def.ID] = c
	return c
}

// priorityInterval returns the configured cadence override or the priority default.
func (o *Orchestrator) priorityInterval(p models.Priority) time.Duration {
	if d, ok := o.config.Cadence[p]; ok && d > 0 {
		return d
	}
	return p.DefaultCadence()
}

// nextRun computes the next automatic run of def after now.
func (o *Orchestrator) nextRun(def *models.WorkflowDefinition, now time.Time) time.Time {
	return o.cadenceFor(def).schedule.Next(now)
}

// backoff returns the delay before retry number retry (1-based).
func (o *Orchestrator) backoff(retry int) time.Duration {
	policy := o.config.Retry
	interval := policy.InitialInterval
	for i := 1; i < retry; i++ {
		interval = time.Duration(float64(interval) * policy.Multiplier)
		if interval >= policy.MaxInterval {
			return policy.MaxInterval
		}
	}
	return min(interval, policy.MaxInterval)
}
