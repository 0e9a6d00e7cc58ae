// Package scheduler owns the periodic jobs of the orchestrator: per-agent
// loop triggers, the engine timeout sweep, the calendar due-event executor,
// urgent-queue draining and maintenance. Each job runs on its own timer.
package scheduler

import "time"

// ScheduledWorkflow registers a workflow definition to run on a cron cadence.
type ScheduledWorkflow struct {
	ID           string                 `json:"id"`
	WorkflowType string                 `json:"workflow_type"`
	CronExpr     string                 `json:"cron_expr"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Enabled      bool                   `json:"enabled"`
	LastRunAt    *time.Time             `json:"last_run_at,omitempty"`
	NextRunAt    time.Time              `json:"next_run_at"`
}

// DueEventStatus is the dispatch status of a calendar event.
type DueEventStatus string

const (
	DueEventPending    DueEventStatus = "pending"
	DueEventDispatched DueEventStatus = "dispatched"
	DueEventFailed     DueEventStatus = "failed"
)

// DueEvent is a calendar-scheduled item (post, ama, release, milestone)
// dispatched once when its scheduled time passes.
type DueEvent struct {
	ID          string                 `json:"id"`
	EventType   string                 `json:"event_type"`
	AgentID     string                 `json:"agent_id"`
	Title       string                 `json:"title"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ScheduledAt time.Time              `json:"scheduled_at"`
	Status      DueEventStatus         `json:"status"`
	Error       string                 `json:"error,omitempty"`
}
