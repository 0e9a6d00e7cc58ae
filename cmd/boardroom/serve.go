package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/execsys/boardroom/internal/api"
	"github.com/execsys/boardroom/internal/bus"
	"github.com/execsys/boardroom/internal/config"
	"github.com/execsys/boardroom/internal/definition"
	"github.com/execsys/boardroom/internal/engine"
	"github.com/execsys/boardroom/internal/health"
	"github.com/execsys/boardroom/internal/scheduler"
	"github.com/execsys/boardroom/internal/store"
	"github.com/execsys/boardroom/internal/urgent"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

// busPinger adapts the bus Health method to the health monitor's Pinger.
type busPinger struct{ bus bus.Bus }

func (p busPinger) Ping(ctx context.Context) error { return p.bus.Health() }

// statusProvider assembles the /status document pieces.
type statusProvider struct {
	bus   *bus.NATSBus
	sched *scheduler.Scheduler
}

func (s statusProvider) BusStats() map[string]interface{} { return s.bus.Stats() }
func (s statusProvider) JobIDs() []string                 { return s.sched.Jobs() }

func serve() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	pg, err := store.New(store.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer pg.Close()

	// Urgent queue.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	urgentQueue := urgent.NewRedisQueue(redisClient, cfg.Redis.KeyPrefix)

	// Bus.
	natsBus, err := bus.NewNATSBus(bus.NATSConfig{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
	})
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer natsBus.Close()

	// Workflow definitions.
	defs := definition.NewCache(pg)
	if err := defs.Install(cfg.Workflows.Dir); err != nil {
		return fmt.Errorf("workflow definitions: %w", err)
	}
	if cfg.Workflows.Watch {
		go func() {
			if err := defs.Watch(ctx, cfg.Workflows.Dir); err != nil {
				log.Printf("[Serve] Definition watcher unavailable: %v", err)
			}
		}()
	}

	// Engine and dispatcher.
	eng := engine.New(defs, pg, bus.NewTaskPublisher(natsBus))

	agents := make([]bus.Agent, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, bus.Agent{ID: a.ID, Role: a.Role, Tier: a.Tier})
	}
	dispatcher := bus.NewDispatcher(natsBus, pg, urgentQueue, agents, eng, cfg.Consensus.MaxVetoRounds)

	tracker := health.NewTracker(10 * time.Minute)
	dispatcher.SetHeartbeats(tracker)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	// Health.
	monitor := health.NewMonitor(pg, busPinger{natsBus}, health.NewDockerRuntime(""), tracker)

	// Scheduler.
	sched := scheduler.New()
	jobs := scheduler.NewJobs(pg, eng, dispatcher, dispatcher, urgentQueue)

	for _, a := range cfg.Agents {
		if a.IntervalSeconds <= 0 {
			continue
		}
		sched.RegisterJob("agent_loop_"+a.ID, time.Duration(a.IntervalSeconds)*time.Second, jobs.AgentLoop(a.ID))
	}
	sched.RegisterJob("timeout_sweep", cfg.Scheduler.TimeoutSweepInterval, jobs.TimeoutSweep)
	sched.RegisterJob("due_events", cfg.Scheduler.DueEventInterval, jobs.ExecuteDueEvents)
	sched.RegisterJob("urgent_drain", cfg.Scheduler.UrgentDrainInterval, jobs.DrainUrgent)
	sched.RegisterJob("scheduled_workflows", cfg.Scheduler.ScheduleInterval, jobs.RunScheduledWorkflows)
	sched.RegisterJob("maintenance", cfg.Scheduler.MaintenanceInterval, func(ctx context.Context) error {
		monitor.Sweep(ctx)
		cutoff := time.Now().AddDate(0, 0, -30)
		if n, err := pg.ArchiveTransitions(cutoff); err != nil {
			return err
		} else if n > 0 {
			log.Printf("[Serve] Archived %d old transitions", n)
		}
		if n, err := pg.GroomQueueItems(cutoff); err != nil {
			return err
		} else if n > 0 {
			log.Printf("[Serve] Groomed %d settled queue items", n)
		}
		return nil
	})

	// Register cron schedules for interval-triggered definitions.
	now := time.Now()
	for _, def := range defs.All() {
		if def.Trigger == nil || def.Trigger.IntervalSeconds <= 0 {
			continue
		}
		expr := scheduler.IntervalToCron(def.Trigger.IntervalSeconds)
		if err := pg.UpsertSchedule(&scheduler.ScheduledWorkflow{
			ID:           "sch-" + def.Type,
			WorkflowType: def.Type,
			CronExpr:     expr,
			Enabled:      true,
			NextRunAt:    scheduler.NextRunFromCron(expr, now),
		}); err != nil {
			return fmt.Errorf("schedule for %s: %w", def.Type, err)
		}
	}

	sched.Start(ctx)

	// HTTP surface.
	server := api.NewServer(cfg.Server.Addr, monitor, statusProvider{bus: natsBus, sched: sched})
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	monitor.Sweep(ctx)
	log.Printf("[Serve] boardroom up: %d agents, %d workflow definitions", len(cfg.Agents), len(defs.All()))

	// Shutdown: stop subscribing, stop timers, drain HTTP.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("[Serve] Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	cancel()
	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Serve] HTTP shutdown: %v", err)
	}
	return nil
}
