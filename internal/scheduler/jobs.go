package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/execsys/boardroom/internal/engine"
	"github.com/execsys/boardroom/internal/metrics"
	"github.com/execsys/boardroom/internal/urgent"
	"github.com/execsys/boardroom/pkg/messages"
)

// UrgentDrainBatch caps how many urgent items one drain tick processes so a
// long backlog cannot produce an unbounded tick.
const UrgentDrainBatch = 10

// dueEventDeadline is the response deadline stamped on dispatched due events.
const dueEventDeadline = 5 * time.Minute

// Store is the persistence surface the scheduler jobs need.
type Store interface {
	ListDueSchedules(now time.Time) ([]*ScheduledWorkflow, error)
	UpdateScheduleNextRun(id string, lastRun, nextRun time.Time) error
	ListDueEvents(now time.Time) ([]*DueEvent, error)
	MarkEventDispatched(id string) error
	MarkEventFailed(id, errMsg string) error
}

// Engine is the slice of the state machine engine the scheduler drives.
type Engine interface {
	CheckTimeouts(ctx context.Context) (int, error)
	RunScheduledWorkflow(ctx context.Context, workflowType string, machineCtx map[string]interface{}) (*engine.Machine, error)
}

// Notifier publishes messages to agents; implemented by the bus dispatcher.
type Notifier interface {
	SendToAgent(ctx context.Context, agentID string, msg *messages.AgentMessage) error
}

// AgentDirectory answers whether an agent id is registered.
type AgentDirectory interface {
	HasAgent(id string) bool
}

// Jobs bundles the scheduler's wired job callbacks.
type Jobs struct {
	store    Store
	engine   Engine
	notifier Notifier
	agents   AgentDirectory
	urgentQ  urgent.Queue
}

// NewJobs builds the job callbacks.
func NewJobs(store Store, eng Engine, notifier Notifier, agents AgentDirectory, urgentQ urgent.Queue) *Jobs {
	return &Jobs{store: store, engine: eng, notifier: notifier, agents: agents, urgentQ: urgentQ}
}

// AgentLoop returns a job waking one agent with a status_request on its
// configured interval.
func (j *Jobs) AgentLoop(agentID string) JobFunc {
	return func(ctx context.Context) error {
		msg := messages.NewAgentMessage(messages.TypeStatusRequest, "scheduler", agentID, map[string]interface{}{
			"agent_id": agentID,
		})
		return j.notifier.SendToAgent(ctx, agentID, msg)
	}
}

// TimeoutSweep runs the engine's timeout sweep.
func (j *Jobs) TimeoutSweep(ctx context.Context) error {
	n, err := j.engine.CheckTimeouts(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Scheduler] Timeout sweep handled %d machines", n)
	}
	return nil
}

// DrainUrgent pops at most UrgentDrainBatch urgent items and republishes
// them as urgent tasks to their agents. Failed re-publishes are pushed back
// so the next tick retries them.
func (j *Jobs) DrainUrgent(ctx context.Context) error {
	items, err := j.urgentQ.PopBatch(ctx, UrgentDrainBatch)
	if err != nil {
		return fmt.Errorf("failed to pop urgent batch: %w", err)
	}
	for _, item := range items {
		msg := messages.NewAgentMessage(messages.TypeTask, "scheduler", item.AgentID, map[string]interface{}{
			"action":  "execute_queued_task",
			"task_id": item.TaskID,
		}).WithPriority(messages.PriorityUrgent)
		if err := j.notifier.SendToAgent(ctx, item.AgentID, msg); err != nil {
			log.Printf("[Scheduler] Urgent dispatch to %s failed, requeueing: %v", item.AgentID, err)
			_ = j.urgentQ.Push(ctx, item)
			continue
		}
		metrics.Shared().UrgentDrained.Inc()
	}
	return nil
}

// ExecuteDueEvents fetches pending calendar events whose time has passed and
// dispatches each once. An unknown agent or a publish failure marks the
// event failed with the error captured; due events are fire-once and never
// retried by this job.
func (j *Jobs) ExecuteDueEvents(ctx context.Context) error {
	events, err := j.store.ListDueEvents(time.Now())
	if err != nil {
		return fmt.Errorf("failed to list due events: %w", err)
	}
	for _, ev := range events {
		if err := j.dispatchDueEvent(ctx, ev); err != nil {
			log.Printf("[Scheduler] Due event %s (%s) failed: %v", ev.ID, ev.EventType, err)
			metrics.Shared().DueEvents.WithLabelValues(ev.EventType, "failed").Inc()
			if markErr := j.store.MarkEventFailed(ev.ID, err.Error()); markErr != nil {
				log.Printf("[Scheduler] Failed to mark event %s failed: %v", ev.ID, markErr)
			}
			continue
		}
		metrics.Shared().DueEvents.WithLabelValues(ev.EventType, "dispatched").Inc()
		if err := j.store.MarkEventDispatched(ev.ID); err != nil {
			log.Printf("[Scheduler] Failed to mark event %s dispatched: %v", ev.ID, err)
		}
	}
	return nil
}

func (j *Jobs) dispatchDueEvent(ctx context.Context, ev *DueEvent) error {
	if j.agents != nil && !j.agents.HasAgent(ev.AgentID) {
		return fmt.Errorf("agent %s not found", ev.AgentID)
	}

	payload := dueEventPayload(ev)
	msg := messages.NewAgentMessage(messages.TypeTask, "scheduler", ev.AgentID, payload).
		WithPriority(messages.PriorityHigh).
		WithDeadline(time.Now().Add(dueEventDeadline))
	return j.notifier.SendToAgent(ctx, ev.AgentID, msg)
}

// dueEventPayload builds the type-specific task payload. Each event type has
// its own shape so the receiving agent's prompt templates stay simple.
func dueEventPayload(ev *DueEvent) map[string]interface{} {
	base := map[string]interface{}{
		"action":       "execute_calendar_event",
		"event_id":     ev.ID,
		"event_type":   ev.EventType,
		"scheduled_at": ev.ScheduledAt.Format(time.RFC3339),
	}
	switch ev.EventType {
	case "post":
		base["topic"] = ev.Title
		base["channels"] = detailOr(ev, "channels", []string{"twitter"})
	case "ama":
		base["session_title"] = ev.Title
		base["venue"] = detailOr(ev, "venue", "discord")
		base["duration_minutes"] = detailOr(ev, "duration_minutes", 60)
	case "release":
		base["release_name"] = ev.Title
		base["changelog"] = detailOr(ev, "changelog", "")
	case "milestone":
		base["milestone"] = ev.Title
		base["criteria"] = detailOr(ev, "criteria", []string{})
	default:
		base["title"] = ev.Title
	}
	return base
}

func detailOr(ev *DueEvent, key string, fallback interface{}) interface{} {
	if ev.Details != nil {
		if v, ok := ev.Details[key]; ok {
			return v
		}
	}
	return fallback
}

// RunScheduledWorkflows starts a machine for every due cron-registered
// definition and advances its next_run_at. A failure on one schedule is
// logged and does not block the rest.
func (j *Jobs) RunScheduledWorkflows(ctx context.Context) error {
	now := time.Now()
	schedules, err := j.store.ListDueSchedules(now)
	if err != nil {
		return fmt.Errorf("failed to list due schedules: %w", err)
	}
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		if m, err := j.engine.RunScheduledWorkflow(ctx, s.WorkflowType, s.Context); err != nil {
			log.Printf("[Scheduler] Scheduled workflow %s (%s) failed to start: %v", s.ID, s.WorkflowType, err)
		} else {
			log.Printf("[Scheduler] Started machine %s for schedule %s", m.ID, s.ID)
		}
		next := NextRunFromCron(s.CronExpr, now)
		if err := j.store.UpdateScheduleNextRun(s.ID, now, next); err != nil {
			log.Printf("[Scheduler] Failed to advance schedule %s: %v", s.ID, err)
		}
	}
	return nil
}
