package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/execsys/boardroom/internal/definition"
	"github.com/execsys/boardroom/internal/metrics"
	"github.com/execsys/boardroom/pkg/messages"
)

// Store is the persistence surface the engine needs. Machine rows are
// mutated only through the engine; transitions are append-only.
type Store interface {
	CreateMachine(m *Machine) error
	GetMachine(id string) (*Machine, error)
	UpdateMachine(m *Machine) error
	ListTimedOut(now time.Time) ([]*Machine, error)
	InsertTransition(t *Transition) error
}

// Publisher abstracts the message bus operations the engine performs.
type Publisher interface {
	PublishStateTask(ctx context.Context, to string, task messages.StateTask) error
	PublishEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Engine creates, drives and persists machine instances against the cached
// workflow definitions.
type Engine struct {
	defs  *definition.Cache
	store Store
	bus   Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine.
func New(defs *definition.Cache, store Store, bus Publisher) *Engine {
	return &Engine{
		defs:  defs,
		store: store,
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockMachine serializes mutations per machine id so a racing ack and
// timeout sweep cannot interleave on the same instance.
func (e *Engine) lockMachine(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[id] = lk
	}
	return lk
}

func (e *Engine) releaseLock(id string) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

// CreateMachine validates the workflow type, resolves the initial state and
// persists a new pending machine instance with its creation transition.
func (e *Engine) CreateMachine(ctx context.Context, workflowType string, machineCtx map[string]interface{}, priority string, externalRefs map[string]string) (*Machine, error) {
	def, err := e.defs.Get(workflowType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, workflowType)
	}

	merged := make(map[string]interface{}, len(machineCtx))
	for k, v := range machineCtx {
		merged[k] = v
	}
	if priority == "" {
		priority = string(messages.PriorityNormal)
	}

	initial := def.StateByName(def.InitialState)
	now := time.Now()
	timeoutAt := now.Add(initial.Timeout)

	m := &Machine{
		ID:             messages.NewID("mach"),
		WorkflowType:   workflowType,
		AgentRole:      def.AgentRole,
		CurrentState:   def.InitialState,
		Context:        merged,
		Status:         StatusPending,
		Priority:       priority,
		ExternalRefs:   externalRefs,
		CreatedAt:      now,
		StateEnteredAt: now,
		StateTimeoutAt: &timeoutAt,
	}

	if err := e.store.CreateMachine(m); err != nil {
		return nil, fmt.Errorf("failed to persist machine: %w", err)
	}
	e.logTransition(m, "", def.InitialState, true, nil, "", 0, 0)
	e.publishEvent(ctx, "machine_created", map[string]interface{}{
		"machine_id":    m.ID,
		"workflow_type": workflowType,
		"agent_role":    m.AgentRole,
	})
	metrics.Shared().MachinesCreated.WithLabelValues(workflowType).Inc()

	log.Printf("[Engine] Created machine %s (workflow=%s, initial=%s)", m.ID, workflowType, def.InitialState)
	return m, nil
}

// StartMachine moves a pending machine to running and dispatches the task
// for its current state. Skip conditions are evaluated first, so a machine
// whose entire graph is skippable can complete without any dispatch.
func (e *Engine) StartMachine(ctx context.Context, id string) error {
	lk := e.lockMachine(id)
	lk.Lock()
	defer lk.Unlock()

	m, err := e.store.GetMachine(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMachineNotFound, id)
	}
	if m.Status != StatusPending {
		return fmt.Errorf("%w: cannot start machine in status %s", ErrInvalidTransition, m.Status)
	}

	def, err := e.defs.Get(m.WorkflowType)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, m.WorkflowType)
	}

	now := time.Now()
	m.Status = StatusRunning
	m.StartedAt = &now

	target := m.CurrentState
	return e.advanceTo(ctx, m, def, &target)
}

// HandleAck consumes an agent's reported outcome for a state task. Acks for
// unknown machines or non-current states are dropped without mutation.
func (e *Engine) HandleAck(ctx context.Context, ack messages.StateAck) error {
	lk := e.lockMachine(ack.MachineID)
	lk.Lock()
	defer lk.Unlock()

	m, err := e.store.GetMachine(ack.MachineID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMachineNotFound, ack.MachineID)
	}
	if m.Status != StatusRunning {
		return fmt.Errorf("%w: ack for machine in status %s", ErrStaleAck, m.Status)
	}
	if ack.State != m.CurrentState {
		return fmt.Errorf("%w: ack for state %s but machine is in %s", ErrStaleAck, ack.State, m.CurrentState)
	}

	def, err := e.defs.Get(m.WorkflowType)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, m.WorkflowType)
	}
	state := def.StateByName(m.CurrentState)
	duration := time.Since(m.StateEnteredAt)
	attempt := m.RetryCount + 1

	if ack.Success {
		for k, v := range ack.Output {
			m.Context[k] = v
		}
		if state.OnSuccess == nil {
			return e.complete(ctx, m)
		}
		e.logTransition(m, m.CurrentState, *state.OnSuccess, true, ack.Output, "", duration, attempt)
		return e.advanceTo(ctx, m, def, state.OnSuccess)
	}

	// Agent-reported failure: retry until the budget is spent.
	if m.RetryCount >= state.MaxRetries {
		return e.fail(ctx, m, duration, attempt,
			fmt.Sprintf("state %s failed after %d attempts: %s", m.CurrentState, attempt, ack.Error))
	}
	m.RetryCount++
	metrics.Shared().MachineRetries.WithLabelValues(m.WorkflowType).Inc()

	target := state.OnFailure
	if target == nil {
		// No failure edge configured: retry the same state.
		target = &m.CurrentState
	}
	e.logTransition(m, m.CurrentState, *target, false, ack.Output, ack.Error, duration, attempt)
	return e.advanceTo(ctx, m, def, target)
}

// CheckTimeouts scans running machines whose state deadline has passed and
// treats each as a failed attempt: retry with a fresh deadline, or fail the
// machine once the retry budget is spent. Scheduler-driven.
func (e *Engine) CheckTimeouts(ctx context.Context) (int, error) {
	timedOut, err := e.store.ListTimedOut(time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list timed-out machines: %w", err)
	}

	handled := 0
	for _, stale := range timedOut {
		if err := e.handleTimeout(ctx, stale.ID); err != nil {
			log.Printf("[Engine] Timeout handling failed for %s: %v", stale.ID, err)
			continue
		}
		handled++
	}
	return handled, nil
}

func (e *Engine) handleTimeout(ctx context.Context, id string) error {
	lk := e.lockMachine(id)
	lk.Lock()
	defer lk.Unlock()

	// Re-fetch under the lock: an ack may have advanced the machine between
	// the sweep query and now. The deadline is re-checked, not trusted.
	m, err := e.store.GetMachine(id)
	if err != nil {
		return err
	}
	if m == nil || m.Status != StatusRunning {
		return nil
	}
	if m.StateTimeoutAt == nil || m.StateTimeoutAt.After(time.Now()) {
		return nil
	}

	def, err := e.defs.Get(m.WorkflowType)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, m.WorkflowType)
	}
	state := def.StateByName(m.CurrentState)
	duration := time.Since(m.StateEnteredAt)

	m.RetryCount++
	metrics.Shared().MachineRetries.WithLabelValues(m.WorkflowType).Inc()
	if m.RetryCount >= state.MaxRetries {
		return e.fail(ctx, m, duration, m.RetryCount,
			fmt.Sprintf("state %s timed out after %d attempts", m.CurrentState, m.RetryCount))
	}

	e.logTransition(m, m.CurrentState, m.CurrentState, false, nil, "timeout", duration, m.RetryCount)
	log.Printf("[Engine] Machine %s timed out in state %s, re-dispatching (attempt %d)", m.ID, m.CurrentState, m.RetryCount+1)

	now := time.Now()
	m.StateEnteredAt = now
	timeoutAt := now.Add(state.Timeout)
	m.StateTimeoutAt = &timeoutAt
	if err := e.store.UpdateMachine(m); err != nil {
		return err
	}
	return e.dispatch(ctx, m, state)
}

// PauseMachine stops future dispatch for a running machine. In-flight tasks
// are not interrupted; their acks will be dropped as stale.
func (e *Engine) PauseMachine(ctx context.Context, id string) error {
	return e.setStatus(id, StatusRunning, StatusPaused)
}

// ResumeMachine returns a paused machine to running with a fresh state
// deadline and re-dispatches the current state's task.
func (e *Engine) ResumeMachine(ctx context.Context, id string) error {
	lk := e.lockMachine(id)
	lk.Lock()
	defer lk.Unlock()

	m, err := e.store.GetMachine(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMachineNotFound, id)
	}
	if m.Status != StatusPaused {
		return fmt.Errorf("%w: cannot resume machine in status %s", ErrInvalidTransition, m.Status)
	}

	def, err := e.defs.Get(m.WorkflowType)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, m.WorkflowType)
	}
	state := def.StateByName(m.CurrentState)

	now := time.Now()
	m.Status = StatusRunning
	m.StateEnteredAt = now
	timeoutAt := now.Add(state.Timeout)
	m.StateTimeoutAt = &timeoutAt
	if err := e.store.UpdateMachine(m); err != nil {
		return err
	}
	return e.dispatch(ctx, m, state)
}

// CancelMachine terminates a machine that has not yet finished.
func (e *Engine) CancelMachine(ctx context.Context, id string) error {
	lk := e.lockMachine(id)
	lk.Lock()
	defer lk.Unlock()
	defer e.releaseLock(id)

	m, err := e.store.GetMachine(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMachineNotFound, id)
	}
	if m.Status.Terminal() {
		return fmt.Errorf("%w: machine already %s", ErrInvalidTransition, m.Status)
	}

	now := time.Now()
	m.Status = StatusCancelled
	m.CompletedAt = &now
	if err := e.store.UpdateMachine(m); err != nil {
		return err
	}
	e.publishEvent(ctx, "machine_cancelled", map[string]interface{}{"machine_id": m.ID})
	log.Printf("[Engine] Cancelled machine %s", m.ID)
	return nil
}

// RunScheduledWorkflow creates and starts a fresh machine instance for a
// cron-registered workflow type. The scheduler advances the schedule's
// next-run bookkeeping itself.
func (e *Engine) RunScheduledWorkflow(ctx context.Context, workflowType string, machineCtx map[string]interface{}) (*Machine, error) {
	m, err := e.CreateMachine(ctx, workflowType, machineCtx, "", nil)
	if err != nil {
		return nil, err
	}
	if err := e.StartMachine(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// advanceTo lands the machine on the target state, skipping over states
// whose skip condition holds, and dispatches the landed state's task.
// A nil target (or a dangling reference) completes the machine.
func (e *Engine) advanceTo(ctx context.Context, m *Machine, def *definition.Definition, target *string) error {
	for {
		if target == nil {
			return e.complete(ctx, m)
		}
		state := def.StateByName(*target)
		if state == nil {
			// Dangling edge: treat as workflow completion rather than
			// wedging the machine.
			log.Printf("[Engine] Machine %s: next state %q not in definition, completing", m.ID, *target)
			return e.complete(ctx, m)
		}

		if state.Skip != nil && skipMatches(state.Skip, m.Context) {
			next := "COMPLETE"
			if state.OnSuccess != nil {
				next = *state.OnSuccess
			}
			e.logTransition(m, state.Name, next, true, nil, "", 0, 0)
			log.Printf("[Engine] Machine %s: skipping state %s", m.ID, state.Name)
			if state.Name != m.CurrentState {
				m.PreviousState = m.CurrentState
				m.CurrentState = state.Name
				m.RetryCount = 0
			}
			target = state.OnSuccess
			continue
		}

		if state.Name != m.CurrentState {
			m.PreviousState = m.CurrentState
			m.CurrentState = state.Name
			m.RetryCount = 0
		}
		now := time.Now()
		m.StateEnteredAt = now
		timeoutAt := now.Add(state.Timeout)
		m.StateTimeoutAt = &timeoutAt
		if err := e.store.UpdateMachine(m); err != nil {
			return err
		}
		return e.dispatch(ctx, m, state)
	}
}

// dispatch publishes the state task to the machine's agent channel: the
// concrete agent id when one is pinned, otherwise the role channel.
func (e *Engine) dispatch(ctx context.Context, m *Machine, state *definition.State) error {
	to := m.AgentID
	if to == "" {
		to = m.AgentRole
	}
	task := messages.StateTask{
		MachineID:      m.ID,
		State:          state.Name,
		WorkflowType:   m.WorkflowType,
		Context:        m.Context,
		Prompt:         Interpolate(state.Prompt, m.Context),
		RequiredOutput: state.RequiredOutput,
		Timeout:        state.Timeout,
		AttemptNumber:  m.RetryCount + 1,
	}
	if err := e.bus.PublishStateTask(ctx, to, task); err != nil {
		return fmt.Errorf("failed to publish state task: %w", err)
	}
	metrics.Shared().TasksDispatched.WithLabelValues(m.WorkflowType, state.Name).Inc()
	return nil
}

func (e *Engine) complete(ctx context.Context, m *Machine) error {
	now := time.Now()
	m.Status = StatusCompleted
	m.CompletedAt = &now
	m.StateTimeoutAt = nil
	if err := e.store.UpdateMachine(m); err != nil {
		return err
	}
	e.releaseLock(m.ID)
	e.publishEvent(ctx, "machine_completed", map[string]interface{}{
		"machine_id":    m.ID,
		"workflow_type": m.WorkflowType,
	})
	metrics.Shared().MachinesCompleted.WithLabelValues(m.WorkflowType).Inc()
	log.Printf("[Engine] Machine %s completed", m.ID)
	return nil
}

func (e *Engine) fail(ctx context.Context, m *Machine, duration time.Duration, attempt int, errMsg string) error {
	e.logTransition(m, m.CurrentState, m.CurrentState, false, nil, errMsg, duration, attempt)
	now := time.Now()
	m.Status = StatusFailed
	m.ErrorMessage = errMsg
	m.CompletedAt = &now
	m.StateTimeoutAt = nil
	if err := e.store.UpdateMachine(m); err != nil {
		return err
	}
	e.releaseLock(m.ID)
	e.publishEvent(ctx, "machine_failed", map[string]interface{}{
		"machine_id":    m.ID,
		"workflow_type": m.WorkflowType,
		"error":         errMsg,
	})
	metrics.Shared().MachinesFailed.WithLabelValues(m.WorkflowType).Inc()
	log.Printf("[Engine] Machine %s failed: %s", m.ID, errMsg)
	return nil
}

func (e *Engine) setStatus(id string, from, to MachineStatus) error {
	lk := e.lockMachine(id)
	lk.Lock()
	defer lk.Unlock()

	m, err := e.store.GetMachine(id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMachineNotFound, id)
	}
	if m.Status != from {
		return fmt.Errorf("%w: machine is %s, expected %s", ErrInvalidTransition, m.Status, from)
	}
	m.Status = to
	if err := e.store.UpdateMachine(m); err != nil {
		return err
	}
	log.Printf("[Engine] Machine %s: %s -> %s", id, from, to)
	return nil
}

// logTransition appends an audit row. Failures are logged and swallowed;
// losing one audit row must not wedge the machine.
func (e *Engine) logTransition(m *Machine, from, to string, success bool, output map[string]interface{}, errMsg string, duration time.Duration, attempt int) {
	t := &Transition{
		ID:            messages.NewID("tr"),
		MachineID:     m.ID,
		FromState:     from,
		ToState:       to,
		Success:       success,
		AgentOutput:   output,
		Error:         errMsg,
		Duration:      duration,
		AttemptNumber: attempt,
		CreatedAt:     time.Now(),
	}
	if err := e.store.InsertTransition(t); err != nil {
		log.Printf("[Engine] Warning: failed to insert transition for %s: %v", m.ID, err)
	}
	metrics.Shared().Transitions.WithLabelValues(m.WorkflowType, fmt.Sprintf("%t", success)).Inc()
}

func (e *Engine) publishEvent(ctx context.Context, eventType string, payload map[string]interface{}) {
	if err := e.bus.PublishEvent(ctx, eventType, payload); err != nil {
		log.Printf("[Engine] Warning: failed to publish %s event: %v", eventType, err)
	}
}

// skipMatches evaluates a skip condition over the context. With Equals set
// the stringified value must match; otherwise the state is skipped when the
// field is absent or falsy.
func skipMatches(cond *definition.SkipCondition, ctx map[string]interface{}) bool {
	value, ok := ctx[cond.Field]
	if cond.Equals != "" {
		return ok && fmt.Sprintf("%v", value) == cond.Equals
	}
	if !ok {
		return true
	}
	switch v := value.(type) {
	case bool:
		return !v
	case string:
		return v == "" || v == "false"
	case int:
		return v == 0
	case float64:
		return v == 0
	default:
		return false
	}
}
