package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Tracker records agent heartbeats and answers liveness probes. Any message
// received from an agent counts as a heartbeat.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	maxAge   time.Duration
}

// NewTracker builds a tracker. Agents silent for longer than maxAge probe as
// unhealthy; agents never seen at all are treated as still starting up.
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Tracker{lastSeen: make(map[string]time.Time), maxAge: maxAge}
}

var _ AgentProber = (*Tracker)(nil)

// Record marks an agent as alive now.
func (t *Tracker) Record(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[agentID] = time.Now()
}

// ProbeAgents reports per-agent liveness based on heartbeat age.
func (t *Tracker) ProbeAgents(ctx context.Context) map[string]error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]error, len(t.lastSeen))
	for id, seen := range t.lastSeen {
		age := time.Since(seen)
		if age > t.maxAge {
			out[id] = fmt.Errorf("no heartbeat for %s", age.Round(time.Second))
		} else {
			out[id] = nil
		}
	}
	return out
}

// DockerRuntime probes the container runtime hosting the agents via the
// Docker daemon's ping endpoint on its unix socket.
type DockerRuntime struct {
	client *http.Client
}

// NewDockerRuntime builds a runtime checker for the given socket path,
// defaulting to /var/run/docker.sock.
func NewDockerRuntime(socketPath string) *DockerRuntime {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}
	return &DockerRuntime{
		client: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

var _ RuntimeChecker = (*DockerRuntime)(nil)

// RuntimeHealthy pings the daemon.
func (d *DockerRuntime) RuntimeHealthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://docker/_ping", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("docker ping returned %d", resp.StatusCode)
	}
	return nil
}
