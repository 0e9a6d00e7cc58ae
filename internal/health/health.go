// Package health runs the dependency checks and aggregates them into one
// system status for probes and the status endpoint.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/execsys/boardroom/internal/metrics"
)

// Status is an aggregated or per-component health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is one component probe.
type Check struct {
	Name   string        `json:"name"`
	Status Status        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Took   time.Duration `json:"took"`
}

// Report is the outcome of one full sweep.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything with a cheap reachability probe: the Postgres store,
// the bus.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RuntimeChecker probes the container or process runtime hosting the agents.
type RuntimeChecker interface {
	RuntimeHealthy(ctx context.Context) error
}

// AgentProber reports per-agent liveness, keyed by agent id.
type AgentProber interface {
	ProbeAgents(ctx context.Context) map[string]error
}

// Monitor runs the checks in parallel and combines them: a critical
// dependency (storage or bus) down makes the system unhealthy; a runtime or
// agent problem only degrades it.
type Monitor struct {
	storage Pinger
	bus     Pinger
	runtime RuntimeChecker
	agents  AgentProber

	mu   sync.RWMutex
	last *Report
}

// NewMonitor builds a monitor. runtime and agents may be nil when those
// probes are not configured; their checks are then skipped.
func NewMonitor(storage, bus Pinger, runtime RuntimeChecker, agents AgentProber) *Monitor {
	return &Monitor{storage: storage, bus: bus, runtime: runtime, agents: agents}
}

// Sweep runs all checks concurrently and aggregates the verdict. The report
// is retained for Last.
func (m *Monitor) Sweep(ctx context.Context) *Report {
	type result struct {
		check    Check
		critical bool
	}

	var wg sync.WaitGroup
	results := make(chan result, 8)

	probe := func(name string, critical bool, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			c := Check{Name: name, Status: StatusHealthy}
			if err := fn(ctx); err != nil {
				c.Status = StatusUnhealthy
				c.Error = err.Error()
			}
			c.Took = time.Since(start)
			results <- result{check: c, critical: critical}
		}()
	}

	probe("storage", true, m.storage.Ping)
	probe("bus", true, m.bus.Ping)
	if m.runtime != nil {
		probe("runtime", false, m.runtime.RuntimeHealthy)
	}
	if m.agents != nil {
		probe("agents", false, func(ctx context.Context) error {
			for id, err := range m.agents.ProbeAgents(ctx) {
				if err != nil {
					return fmt.Errorf("agent %s: %w", id, err)
				}
			}
			return nil
		})
	}

	wg.Wait()
	close(results)

	report := &Report{Status: StatusHealthy, CheckedAt: time.Now()}
	for r := range results {
		report.Checks = append(report.Checks, r.check)
		if r.check.Status == StatusHealthy {
			metrics.Shared().HealthStatus.WithLabelValues(r.check.Name).Set(1)
			continue
		}
		log.Printf("[Health] Check %s failed: %s", r.check.Name, r.check.Error)
		if r.critical {
			metrics.Shared().HealthStatus.WithLabelValues(r.check.Name).Set(0)
			report.Status = StatusUnhealthy
		} else {
			metrics.Shared().HealthStatus.WithLabelValues(r.check.Name).Set(0.5)
			if report.Status != StatusUnhealthy {
				report.Status = StatusDegraded
			}
		}
	}

	switch report.Status {
	case StatusHealthy:
		metrics.Shared().HealthStatus.WithLabelValues("system").Set(1)
	case StatusDegraded:
		metrics.Shared().HealthStatus.WithLabelValues("system").Set(0.5)
	default:
		metrics.Shared().HealthStatus.WithLabelValues("system").Set(0)
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}

// Last returns the most recent report, or nil before the first sweep.
func (m *Monitor) Last() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Liveness reports process liveness. It is trivially nil while the process
// runs; external probes use it to distinguish "up" from "ready".
func (m *Monitor) Liveness() error {
	return nil
}

// Readiness checks the critical dependencies only.
func (m *Monitor) Readiness(ctx context.Context) error {
	if err := m.storage.Ping(ctx); err != nil {
		return fmt.Errorf("storage not ready: %w", err)
	}
	if err := m.bus.Ping(ctx); err != nil {
		return fmt.Errorf("bus not ready: %w", err)
	}
	return nil
}
