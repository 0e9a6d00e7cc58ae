package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeRuntime struct{ err error }

func (f *fakeRuntime) RuntimeHealthy(ctx context.Context) error { return f.err }

type fakeAgents map[string]error

func (f fakeAgents) ProbeAgents(ctx context.Context) map[string]error { return f }

func TestAllChecksPassing(t *testing.T) {
	m := NewMonitor(&fakePinger{}, &fakePinger{}, &fakeRuntime{}, fakeAgents{"ceo-1": nil})
	report := m.Sweep(context.Background())

	if report.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", report.Status)
	}
	if len(report.Checks) != 4 {
		t.Errorf("ran %d checks, want 4", len(report.Checks))
	}
}

func TestStorageDownIsUnhealthy(t *testing.T) {
	m := NewMonitor(&fakePinger{err: errors.New("connection refused")}, &fakePinger{}, &fakeRuntime{}, nil)
	if report := m.Sweep(context.Background()); report.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy when storage is down", report.Status)
	}
}

func TestBusDownIsUnhealthy(t *testing.T) {
	m := NewMonitor(&fakePinger{}, &fakePinger{err: errors.New("nats closed")}, nil, nil)
	if report := m.Sweep(context.Background()); report.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy when bus is down", report.Status)
	}
}

func TestRuntimeDownOnlyDegrades(t *testing.T) {
	m := NewMonitor(&fakePinger{}, &fakePinger{}, &fakeRuntime{err: errors.New("docker daemon unreachable")}, nil)
	if report := m.Sweep(context.Background()); report.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded for a runtime problem", report.Status)
	}
}

func TestSickAgentOnlyDegrades(t *testing.T) {
	m := NewMonitor(&fakePinger{}, &fakePinger{}, &fakeRuntime{},
		fakeAgents{"ceo-1": nil, "cfo-1": errors.New("no heartbeat")})
	if report := m.Sweep(context.Background()); report.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded for one sick agent", report.Status)
	}
}

func TestCriticalOutranksDegraded(t *testing.T) {
	m := NewMonitor(
		&fakePinger{err: errors.New("down")},
		&fakePinger{},
		&fakeRuntime{err: errors.New("also down")},
		nil)
	if report := m.Sweep(context.Background()); report.Status != StatusUnhealthy {
		t.Errorf("Status = %s, unhealthy must win over degraded", report.Status)
	}
}

func TestReadinessNeedsStorageAndBus(t *testing.T) {
	healthy := NewMonitor(&fakePinger{}, &fakePinger{}, nil, nil)
	if err := healthy.Readiness(context.Background()); err != nil {
		t.Errorf("Readiness() = %v, want nil", err)
	}

	busDown := NewMonitor(&fakePinger{}, &fakePinger{err: errors.New("closed")}, nil, nil)
	if err := busDown.Readiness(context.Background()); err == nil {
		t.Error("Readiness() should fail when the bus is down")
	}
	if err := busDown.Liveness(); err != nil {
		t.Errorf("Liveness() = %v, must stay nil while the process runs", err)
	}
}

func TestTrackerHeartbeatAging(t *testing.T) {
	tr := NewTracker(50 * time.Millisecond)
	tr.Record("ceo-1")
	tr.Record("cfo-1")

	probes := tr.ProbeAgents(context.Background())
	if probes["ceo-1"] != nil || probes["cfo-1"] != nil {
		t.Errorf("fresh heartbeats should probe healthy: %v", probes)
	}

	time.Sleep(80 * time.Millisecond)
	tr.Record("ceo-1")

	probes = tr.ProbeAgents(context.Background())
	if probes["ceo-1"] != nil {
		t.Errorf("ceo-1 just heartbeat, got %v", probes["ceo-1"])
	}
	if probes["cfo-1"] == nil {
		t.Error("cfo-1 silent past maxAge should probe unhealthy")
	}
}

func TestLastRetainsReport(t *testing.T) {
	m := NewMonitor(&fakePinger{}, &fakePinger{}, nil, nil)
	if m.Last() != nil {
		t.Error("Last() before first sweep should be nil")
	}
	report := m.Sweep(context.Background())
	if m.Last() != report {
		t.Error("Last() should return the most recent report")
	}
}
