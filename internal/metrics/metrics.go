// Package metrics registers the Prometheus metrics for the orchestrator.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for boardroom.
type Metrics struct {
	// Engine metrics
	MachinesCreated   *prometheus.CounterVec
	MachinesCompleted *prometheus.CounterVec
	MachinesFailed    *prometheus.CounterVec
	MachineRetries    *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	TasksDispatched   *prometheus.CounterVec

	// Bus metrics
	MessagesPublished *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	DecisionsResolved *prometheus.CounterVec
	Escalations       prometheus.Counter

	// Scheduler metrics
	JobTicks      *prometheus.CounterVec
	JobSkips      *prometheus.CounterVec
	UrgentDrained prometheus.Counter
	DueEvents     *prometheus.CounterVec

	// Health metrics
	HealthStatus *prometheus.GaugeVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// Shared returns the process-wide metrics, registering them on first use.
func Shared() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			MachinesCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_machines_created_total",
					Help: "Machine instances created",
				},
				[]string{"workflow_type"},
			),
			MachinesCompleted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_machines_completed_total",
					Help: "Machine instances that reached completed",
				},
				[]string{"workflow_type"},
			),
			MachinesFailed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_machines_failed_total",
					Help: "Machine instances that reached failed",
				},
				[]string{"workflow_type"},
			),
			MachineRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_machine_retries_total",
					Help: "State retries from agent failures and timeouts",
				},
				[]string{"workflow_type"},
			),
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_state_transitions_total",
					Help: "Audit transitions written",
				},
				[]string{"workflow_type", "success"},
			),
			TasksDispatched: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_tasks_dispatched_total",
					Help: "State tasks published to agent channels",
				},
				[]string{"workflow_type", "state"},
			),
			MessagesPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_messages_published_total",
					Help: "Bus messages published by type",
				},
				[]string{"type"},
			),
			MessagesHandled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_messages_handled_total",
					Help: "Bus messages consumed by the built-in handlers",
				},
				[]string{"type", "result"},
			),
			DecisionsResolved: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_decisions_resolved_total",
					Help: "Decisions resolved by final status",
				},
				[]string{"status"},
			),
			Escalations: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "boardroom_escalations_total",
					Help: "Human escalation records created",
				},
			),
			JobTicks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_scheduler_ticks_total",
					Help: "Scheduler job ticks executed",
				},
				[]string{"job"},
			),
			JobSkips: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_scheduler_skips_total",
					Help: "Scheduler job ticks skipped due to errors",
				},
				[]string{"job"},
			),
			UrgentDrained: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "boardroom_urgent_drained_total",
					Help: "Urgent queue items drained",
				},
			),
			DueEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "boardroom_due_events_total",
					Help: "Calendar due events dispatched or failed",
				},
				[]string{"type", "result"},
			),
			HealthStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "boardroom_health_status",
					Help: "Component health (1 healthy, 0.5 degraded, 0 unhealthy)",
				},
				[]string{"component"},
			),
		}
	})
	return sharedMetrics
}
