// Package store implements the Postgres persistence layer behind the
// narrow store interfaces of the definition cache, engine, dispatcher and
// scheduler.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/execsys/boardroom/internal/bus"
	"github.com/execsys/boardroom/internal/definition"
	"github.com/execsys/boardroom/internal/engine"
	"github.com/execsys/boardroom/internal/scheduler"
)

// Postgres is the shared database handle. One instance serves every
// component; updates are targeted column writes keyed by id with
// last-writer-wins semantics.
type Postgres struct {
	db *sql.DB
}

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// New opens the database, verifies connectivity and initializes the schema.
func New(cfg Config) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Printf("[Store] Connected to Postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return s, nil
}

// Interface conformance.
var (
	_ definition.Store = (*Postgres)(nil)
	_ engine.Store     = (*Postgres)(nil)
	_ bus.Store        = (*Postgres)(nil)
	_ scheduler.Store  = (*Postgres)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	type TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	agent_role TEXT NOT NULL,
	states JSONB NOT NULL,
	initial_state TEXT NOT NULL,
	trigger_interval_seconds INT NOT NULL DEFAULT 0,
	version INT NOT NULL DEFAULT 1,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS machine_instances (
	id TEXT PRIMARY KEY,
	workflow_type TEXT NOT NULL,
	agent_role TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	current_state TEXT NOT NULL,
	previous_state TEXT NOT NULL DEFAULT '',
	context JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'normal',
	retry_count INT NOT NULL DEFAULT 0,
	external_refs JSONB NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	state_entered_at TIMESTAMPTZ NOT NULL,
	state_timeout_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_machines_status ON machine_instances(status);
CREATE INDEX IF NOT EXISTS idx_machines_timeout ON machine_instances(state_timeout_at)
	WHERE status = 'running';

CREATE TABLE IF NOT EXISTS state_transitions (
	id TEXT PRIMARY KEY,
	machine_id TEXT NOT NULL,
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	agent_output JSONB,
	error TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	attempt_number INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_machine ON state_transitions(machine_id);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	proposer TEXT NOT NULL,
	tier TEXT NOT NULL,
	status TEXT NOT NULL,
	ceo_vote TEXT NOT NULL DEFAULT '',
	ceo_round INT NOT NULL DEFAULT 0,
	dao_vote TEXT NOT NULL DEFAULT '',
	dao_round INT NOT NULL DEFAULT 0,
	clevel_votes JSONB NOT NULL DEFAULT '{}',
	veto_round INT NOT NULL DEFAULT 0,
	human_override TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS escalations (
	id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	channels JSONB NOT NULL DEFAULT '[]',
	human_response TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	responded_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_agent_status ON queue_items(agent_id, status);

CREATE TABLE IF NOT EXISTS scheduled_workflows (
	id TEXT PRIMARY KEY,
	workflow_type TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	context JSONB NOT NULL DEFAULT '{}',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	last_run_at TIMESTAMPTZ,
	next_run_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS due_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	title TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}',
	scheduled_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_due_events_pending ON due_events(scheduled_at)
	WHERE status = 'pending';
`

func (s *Postgres) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to Postgres $N placeholders so queries read
// naturally at the call site.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Ping verifies database connectivity for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// --- Workflow definitions ---

func (s *Postgres) UpsertDefinition(def *definition.Definition) error {
	states, err := marshalJSON(def.States)
	if err != nil {
		return fmt.Errorf("failed to encode states: %w", err)
	}
	interval := 0
	if def.Trigger != nil {
		interval = def.Trigger.IntervalSeconds
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO workflow_definitions
			(type, description, agent_role, states, initial_state, trigger_interval_seconds, version, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON CONFLICT (type) DO UPDATE SET
			description = EXCLUDED.description,
			agent_role = EXCLUDED.agent_role,
			states = EXCLUDED.states,
			initial_state = EXCLUDED.initial_state,
			trigger_interval_seconds = EXCLUDED.trigger_interval_seconds,
			version = EXCLUDED.version,
			active = EXCLUDED.active,
			updated_at = NOW()`),
		def.Type, def.Description, def.AgentRole, states, def.InitialState, interval, def.Version, def.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert definition %s: %w", def.Type, err)
	}
	return nil
}

func (s *Postgres) ListDefinitions() ([]*definition.Definition, error) {
	rows, err := s.db.Query(`
		SELECT type, description, agent_role, states, initial_state, trigger_interval_seconds, version, active
		FROM workflow_definitions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*definition.Definition
	for rows.Next() {
		var d definition.Definition
		var states []byte
		var interval int
		if err := rows.Scan(&d.Type, &d.Description, &d.AgentRole, &states, &d.InitialState, &interval, &d.Version, &d.Active); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		if err := unmarshalJSON(states, &d.States); err != nil {
			return nil, fmt.Errorf("failed to decode states for %s: %w", d.Type, err)
		}
		if interval > 0 {
			d.Trigger = &definition.Trigger{IntervalSeconds: interval}
		}
		defs = append(defs, &d)
	}
	return defs, rows.Err()
}

// --- Machine instances ---

func (s *Postgres) CreateMachine(m *engine.Machine) error {
	machineCtx, err := marshalJSON(m.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}
	refs, err := marshalJSON(m.ExternalRefs)
	if err != nil {
		return fmt.Errorf("failed to encode external refs: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO machine_instances
			(id, workflow_type, agent_role, agent_id, current_state, previous_state, context,
			 status, priority, retry_count, external_refs, error_message,
			 created_at, started_at, state_entered_at, state_timeout_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.WorkflowType, m.AgentRole, m.AgentID, m.CurrentState, m.PreviousState, machineCtx,
		m.Status, m.Priority, m.RetryCount, refs, m.ErrorMessage,
		m.CreatedAt, m.StartedAt, m.StateEnteredAt, m.StateTimeoutAt, m.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create machine %s: %w", m.ID, err)
	}
	return nil
}

const machineColumns = `id, workflow_type, agent_role, agent_id, current_state, previous_state, context,
	status, priority, retry_count, external_refs, error_message,
	created_at, started_at, state_entered_at, state_timeout_at, completed_at`

func scanMachine(row interface{ Scan(...interface{}) error }) (*engine.Machine, error) {
	var m engine.Machine
	var machineCtx, refs []byte
	err := row.Scan(&m.ID, &m.WorkflowType, &m.AgentRole, &m.AgentID, &m.CurrentState, &m.PreviousState, &machineCtx,
		&m.Status, &m.Priority, &m.RetryCount, &refs, &m.ErrorMessage,
		&m.CreatedAt, &m.StartedAt, &m.StateEnteredAt, &m.StateTimeoutAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(machineCtx, &m.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context for %s: %w", m.ID, err)
	}
	if err := unmarshalJSON(refs, &m.ExternalRefs); err != nil {
		return nil, fmt.Errorf("failed to decode external refs for %s: %w", m.ID, err)
	}
	return &m, nil
}

func (s *Postgres) GetMachine(id string) (*engine.Machine, error) {
	row := s.db.QueryRow(rebind(`SELECT `+machineColumns+` FROM machine_instances WHERE id = ?`), id)
	m, err := scanMachine(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrMachineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get machine %s: %w", id, err)
	}
	return m, nil
}

func (s *Postgres) UpdateMachine(m *engine.Machine) error {
	machineCtx, err := marshalJSON(m.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}
	refs, err := marshalJSON(m.ExternalRefs)
	if err != nil {
		return fmt.Errorf("failed to encode external refs: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		UPDATE machine_instances SET
			agent_id = ?, current_state = ?, previous_state = ?, context = ?,
			status = ?, priority = ?, retry_count = ?, external_refs = ?, error_message = ?,
			started_at = ?, state_entered_at = ?, state_timeout_at = ?, completed_at = ?
		WHERE id = ?`),
		m.AgentID, m.CurrentState, m.PreviousState, machineCtx,
		m.Status, m.Priority, m.RetryCount, refs, m.ErrorMessage,
		m.StartedAt, m.StateEnteredAt, m.StateTimeoutAt, m.CompletedAt, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update machine %s: %w", m.ID, err)
	}
	return nil
}

func (s *Postgres) ListTimedOut(now time.Time) ([]*engine.Machine, error) {
	rows, err := s.db.Query(rebind(`
		SELECT `+machineColumns+` FROM machine_instances
		WHERE status = 'running' AND state_timeout_at IS NOT NULL AND state_timeout_at <= ?`), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list timed-out machines: %w", err)
	}
	defer rows.Close()

	var machines []*engine.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (s *Postgres) InsertTransition(t *engine.Transition) error {
	output, err := marshalJSON(t.AgentOutput)
	if err != nil {
		return fmt.Errorf("failed to encode agent output: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO state_transitions
			(id, machine_id, from_state, to_state, success, agent_output, error, duration_ms, attempt_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.MachineID, t.FromState, t.ToState, t.Success, output, t.Error,
		t.Duration.Milliseconds(), t.AttemptNumber, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transition for %s: %w", t.MachineID, err)
	}
	return nil
}

// ListTransitions returns a machine's audit trail, oldest first.
func (s *Postgres) ListTransitions(machineID string) ([]*engine.Transition, error) {
	rows, err := s.db.Query(rebind(`
		SELECT id, machine_id, from_state, to_state, success, agent_output, error, duration_ms, attempt_number, created_at
		FROM state_transitions WHERE machine_id = ? ORDER BY created_at`), machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*engine.Transition
	for rows.Next() {
		var t engine.Transition
		var output []byte
		var durationMs int64
		if err := rows.Scan(&t.ID, &t.MachineID, &t.FromState, &t.ToState, &t.Success, &output, &t.Error, &durationMs, &t.AttemptNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if err := unmarshalJSON(output, &t.AgentOutput); err != nil {
			return nil, fmt.Errorf("failed to decode agent output: %w", err)
		}
		t.Duration = time.Duration(durationMs) * time.Millisecond
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

// --- Decisions & escalations ---

func (s *Postgres) CreateDecision(d *bus.Decision) error {
	votes, err := marshalJSON(d.ClevelVotes)
	if err != nil {
		return fmt.Errorf("failed to encode clevel votes: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO decisions
			(id, title, description, proposer, tier, status, ceo_vote, ceo_round, dao_vote, dao_round,
			 clevel_votes, veto_round, human_override, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.Title, d.Description, d.Proposer, d.Tier, d.Status, d.CEOVote, d.CEORound, d.DAOVote, d.DAORound,
		votes, d.VetoRound, d.HumanOverride, d.CreatedAt, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *Postgres) GetDecision(id string) (*bus.Decision, error) {
	var d bus.Decision
	var votes []byte
	err := s.db.QueryRow(rebind(`
		SELECT id, title, description, proposer, tier, status, ceo_vote, ceo_round, dao_vote, dao_round,
			clevel_votes, veto_round, human_override, created_at, resolved_at
		FROM decisions WHERE id = ?`), id).Scan(
		&d.ID, &d.Title, &d.Description, &d.Proposer, &d.Tier, &d.Status, &d.CEOVote, &d.CEORound, &d.DAOVote, &d.DAORound,
		&votes, &d.VetoRound, &d.HumanOverride, &d.CreatedAt, &d.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision %s: %w", id, err)
	}
	if err := unmarshalJSON(votes, &d.ClevelVotes); err != nil {
		return nil, fmt.Errorf("failed to decode clevel votes: %w", err)
	}
	return &d, nil
}

func (s *Postgres) UpdateDecision(d *bus.Decision) error {
	votes, err := marshalJSON(d.ClevelVotes)
	if err != nil {
		return fmt.Errorf("failed to encode clevel votes: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		UPDATE decisions SET
			status = ?, ceo_vote = ?, ceo_round = ?, dao_vote = ?, dao_round = ?,
			clevel_votes = ?, veto_round = ?, human_override = ?, resolved_at = ?
		WHERE id = ?`),
		d.Status, d.CEOVote, d.CEORound, d.DAOVote, d.DAORound,
		votes, d.VetoRound, d.HumanOverride, d.ResolvedAt, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *Postgres) CreateEscalation(e *bus.Escalation) error {
	channels, err := marshalJSON(e.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO escalations (id, decision_id, reason, channels, human_response, status, created_at, responded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.DecisionID, e.Reason, channels, e.HumanResponse, e.Status, e.CreatedAt, e.RespondedAt)
	if err != nil {
		return fmt.Errorf("failed to create escalation %s: %w", e.ID, err)
	}
	return nil
}

// --- Queue items ---

func (s *Postgres) EnqueueTask(item *bus.QueueItem) error {
	payload, err := marshalJSON(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO queue_items (id, agent_id, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		item.ID, item.AgentID, payload, item.Status, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", item.ID, err)
	}
	return nil
}

// GroomQueueItems deletes acknowledged and timed-out items older than the
// cutoff; used by the maintenance job.
func (s *Postgres) GroomQueueItems(before time.Time) (int64, error) {
	res, err := s.db.Exec(rebind(`
		DELETE FROM queue_items
		WHERE status IN ('acknowledged', 'timeout') AND updated_at < ?`), before)
	if err != nil {
		return 0, fmt.Errorf("failed to groom queue items: %w", err)
	}
	return res.RowsAffected()
}

// ArchiveTransitions deletes audit rows for machines completed before the
// cutoff; used by the maintenance job.
func (s *Postgres) ArchiveTransitions(before time.Time) (int64, error) {
	res, err := s.db.Exec(rebind(`
		DELETE FROM state_transitions WHERE machine_id IN (
			SELECT id FROM machine_instances
			WHERE status IN ('completed', 'cancelled') AND completed_at < ?)`), before)
	if err != nil {
		return 0, fmt.Errorf("failed to archive transitions: %w", err)
	}
	return res.RowsAffected()
}

// --- Scheduled workflows & due events ---

func (s *Postgres) ListDueSchedules(now time.Time) ([]*scheduler.ScheduledWorkflow, error) {
	rows, err := s.db.Query(rebind(`
		SELECT id, workflow_type, cron_expr, context, enabled, last_run_at, next_run_at
		FROM scheduled_workflows WHERE enabled AND next_run_at <= ?`), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*scheduler.ScheduledWorkflow
	for rows.Next() {
		var sw scheduler.ScheduledWorkflow
		var swCtx []byte
		if err := rows.Scan(&sw.ID, &sw.WorkflowType, &sw.CronExpr, &swCtx, &sw.Enabled, &sw.LastRunAt, &sw.NextRunAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		if err := unmarshalJSON(swCtx, &sw.Context); err != nil {
			return nil, fmt.Errorf("failed to decode schedule context: %w", err)
		}
		schedules = append(schedules, &sw)
	}
	return schedules, rows.Err()
}

func (s *Postgres) UpdateScheduleNextRun(id string, lastRun, nextRun time.Time) error {
	_, err := s.db.Exec(rebind(`
		UPDATE scheduled_workflows SET last_run_at = ?, next_run_at = ? WHERE id = ?`),
		lastRun, nextRun, id)
	if err != nil {
		return fmt.Errorf("failed to advance schedule %s: %w", id, err)
	}
	return nil
}

// UpsertSchedule registers or refreshes a cron schedule for a definition.
func (s *Postgres) UpsertSchedule(sw *scheduler.ScheduledWorkflow) error {
	swCtx, err := marshalJSON(sw.Context)
	if err != nil {
		return fmt.Errorf("failed to encode schedule context: %w", err)
	}
	_, err = s.db.Exec(rebind(`
		INSERT INTO scheduled_workflows (id, workflow_type, cron_expr, context, enabled, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workflow_type = EXCLUDED.workflow_type,
			cron_expr = EXCLUDED.cron_expr,
			context = EXCLUDED.context,
			enabled = EXCLUDED.enabled,
			next_run_at = EXCLUDED.next_run_at`),
		sw.ID, sw.WorkflowType, sw.CronExpr, swCtx, sw.Enabled, sw.LastRunAt, sw.NextRunAt)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule %s: %w", sw.ID, err)
	}
	return nil
}

func (s *Postgres) ListDueEvents(now time.Time) ([]*scheduler.DueEvent, error) {
	rows, err := s.db.Query(rebind(`
		SELECT id, event_type, agent_id, title, details, scheduled_at, status, error
		FROM due_events WHERE status = 'pending' AND scheduled_at <= ?`), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due events: %w", err)
	}
	defer rows.Close()

	var events []*scheduler.DueEvent
	for rows.Next() {
		var ev scheduler.DueEvent
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AgentID, &ev.Title, &details, &ev.ScheduledAt, &ev.Status, &ev.Error); err != nil {
			return nil, fmt.Errorf("failed to scan due event: %w", err)
		}
		if err := unmarshalJSON(details, &ev.Details); err != nil {
			return nil, fmt.Errorf("failed to decode event details: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *Postgres) MarkEventDispatched(id string) error {
	_, err := s.db.Exec(rebind(`UPDATE due_events SET status = 'dispatched' WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s dispatched: %w", id, err)
	}
	return nil
}

func (s *Postgres) MarkEventFailed(id, errMsg string) error {
	_, err := s.db.Exec(rebind(`UPDATE due_events SET status = 'failed', error = ? WHERE id = ?`), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s failed: %w", id, err)
	}
	return nil
}
