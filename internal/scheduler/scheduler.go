package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/execsys/boardroom/internal/metrics"
)

// JobFunc is one job callback. Errors are logged and the tick is skipped;
// they never stop the timer.
type JobFunc func(ctx context.Context) error

type job struct {
	id       string
	interval time.Duration
	fn       JobFunc
	cronExpr string

	paused  bool
	stopped bool
	ticker  *time.Ticker
	done    chan struct{}
}

// Scheduler is the job registry. Every job runs on its own independent
// timer; one job's tick never blocks another's.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	wg      sync.WaitGroup
}

// New constructs an empty scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// RegisterJob adds a job to the registry. Registering an existing id
// replaces the previous registration; if the scheduler is already started
// the new job's timer starts immediately.
func (s *Scheduler) RegisterJob(id string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[id]; ok && old.ticker != nil && !old.stopped {
		old.stopped = true
		old.ticker.Stop()
		close(old.done)
	}
	j := &job{
		id:       id,
		interval: interval,
		fn:       fn,
		cronExpr: IntervalToCron(int(interval / time.Second)),
	}
	s.jobs[id] = j
	if s.started {
		s.startJob(j)
	}
	log.Printf("[Scheduler] Registered job %s (every %s, cron %q)", id, interval, j.cronExpr)
}

// Start launches a timer goroutine per registered job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.startJob(j)
	}
	log.Printf("[Scheduler] Started %d jobs", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// startJob is called with s.mu held.
func (s *Scheduler) startJob(j *job) {
	j.ticker = time.NewTicker(j.interval)
	j.done = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-j.done:
				return
			case <-j.ticker.C:
				s.runJob(j)
			}
		}
	}()
}

// runJob executes one tick. A panicking or failing callback is logged and
// skipped; the timer keeps firing.
func (s *Scheduler) runJob(j *job) {
	s.mu.Lock()
	skip := j.paused || j.stopped
	s.mu.Unlock()
	if skip {
		metrics.Shared().JobSkips.WithLabelValues(j.id).Inc()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler] Job %s panicked: %v", j.id, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	metrics.Shared().JobTicks.WithLabelValues(j.id).Inc()
	if err := j.fn(ctx); err != nil {
		log.Printf("[Scheduler] Job %s failed, skipping tick: %v", j.id, err)
	}
}

// PauseJob suspends a job's ticks without losing its registration.
// Returns false if the id is unknown.
func (s *Scheduler) PauseJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = true
	log.Printf("[Scheduler] Paused job %s", id)
	return true
}

// ResumeJob re-enables a paused job. Returns false if the id is unknown.
func (s *Scheduler) ResumeJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = false
	log.Printf("[Scheduler] Resumed job %s", id)
	return true
}

// StopJob stops a job's timer for good, keeping its registration metadata
// so it remains inspectable. Returns false if the id is unknown.
func (s *Scheduler) StopJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	if !j.stopped {
		j.stopped = true
		if j.ticker != nil {
			j.ticker.Stop()
			close(j.done)
		}
	}
	log.Printf("[Scheduler] Stopped job %s", id)
	return true
}

// Stop halts every timer and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, j := range s.jobs {
		if !j.stopped {
			j.stopped = true
			if j.ticker != nil {
				j.ticker.Stop()
				close(j.done)
			}
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

// Jobs returns the registered job ids.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
