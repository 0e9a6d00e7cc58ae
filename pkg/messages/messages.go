// Package messages defines the wire types exchanged over the message bus
// between the orchestrator and the agent executors. Agent executors run out
// of process; these types are the contract they compile against.
package messages

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies which built-in handler a message is dispatched to.
type MessageType string

const (
	TypeStatusRequest MessageType = "status_request"
	TypeTask          MessageType = "task"
	TypeDecision      MessageType = "decision"
	TypeVote          MessageType = "vote"
	TypeAlert         MessageType = "alert"
	TypeStateTask     MessageType = "state_task"
	TypeStateAck      MessageType = "state_ack"
	TypeEvent         MessageType = "event"
)

// Priority controls queue selection and drain ordering.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Addressing constants for the To field.
const (
	ToAll      = "all"
	TierHead   = "head"
	TierClevel = "clevel"
)

// AgentMessage is the envelope for all bus traffic.
// To is a concrete agent id, a role tier ("head"/"clevel"), or "all".
type AgentMessage struct {
	ID               string                 `json:"id"`
	Type             MessageType            `json:"type"`
	From             string                 `json:"from"`
	To               string                 `json:"to"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Priority         Priority               `json:"priority"`
	Timestamp        time.Time              `json:"timestamp"`
	RequiresResponse bool                   `json:"requires_response"`
	ResponseDeadline *time.Time             `json:"response_deadline,omitempty"`
}

// NewAgentMessage creates an envelope with generated id, timestamp and
// defaults (priority normal, no response required).
func NewAgentMessage(msgType MessageType, from, to string, payload map[string]interface{}) *AgentMessage {
	return &AgentMessage{
		ID:        NewID("msg"),
		Type:      msgType,
		From:      from,
		To:        to,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}

// WithPriority overrides the default priority.
func (m *AgentMessage) WithPriority(p Priority) *AgentMessage {
	m.Priority = p
	return m
}

// WithDeadline marks the message as requiring a response by the given time.
func (m *AgentMessage) WithDeadline(deadline time.Time) *AgentMessage {
	m.RequiresResponse = true
	m.ResponseDeadline = &deadline
	return m
}

// NewID returns a prefixed short id, e.g. "msg-3f1c09ab".
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}
