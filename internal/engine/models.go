// Package engine drives persisted machine instances through their workflow
// definitions: it dispatches state tasks to agents, consumes their acks,
// applies retry/timeout policy and keeps an append-only transition log.
package engine

import (
	"errors"
	"time"
)

// MachineStatus is the lifecycle status of a machine instance.
type MachineStatus string

const (
	StatusPending   MachineStatus = "pending"
	StatusRunning   MachineStatus = "running"
	StatusPaused    MachineStatus = "paused"
	StatusCompleted MachineStatus = "completed"
	StatusFailed    MachineStatus = "failed"
	StatusCancelled MachineStatus = "cancelled"
)

// Terminal reports whether a machine in this status can never move again.
func (s MachineStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrDefinitionNotFound is returned when a machine references an
	// unknown or inactive workflow type.
	ErrDefinitionNotFound = errors.New("workflow definition not found or inactive")
	// ErrMachineNotFound is returned for operations on unknown machine ids.
	ErrMachineNotFound = errors.New("machine instance not found")
	// ErrInvalidTransition is returned when an operation is not valid for
	// the machine's current status.
	ErrInvalidTransition = errors.New("invalid machine status transition")
	// ErrStaleAck is returned when an ack names a state that is no longer
	// the machine's current state. The ack is dropped without mutation.
	ErrStaleAck = errors.New("stale or duplicate ack")
)

// Machine is one running or finished execution of a workflow definition.
type Machine struct {
	ID             string                 `json:"id"`
	WorkflowType   string                 `json:"workflow_type"`
	AgentRole      string                 `json:"agent_role"`
	AgentID        string                 `json:"agent_id,omitempty"`
	CurrentState   string                 `json:"current_state"`
	PreviousState  string                 `json:"previous_state,omitempty"`
	Context        map[string]interface{} `json:"context"`
	Status         MachineStatus          `json:"status"`
	Priority       string                 `json:"priority"`
	RetryCount     int                    `json:"retry_count"`
	ExternalRefs   map[string]string      `json:"external_refs,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	StateEnteredAt time.Time              `json:"state_entered_at"`
	StateTimeoutAt *time.Time             `json:"state_timeout_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// Transition is one append-only audit record of a machine state change.
// FromState is empty for the creation transition.
type Transition struct {
	ID            string                 `json:"id"`
	MachineID     string                 `json:"machine_id"`
	FromState     string                 `json:"from_state,omitempty"`
	ToState       string                 `json:"to_state"`
	Success       bool                   `json:"success"`
	AgentOutput   map[string]interface{} `json:"agent_output,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Duration      time.Duration          `json:"duration"`
	AttemptNumber int                    `json:"attempt_number"`
	CreatedAt     time.Time              `json:"created_at"`
}
