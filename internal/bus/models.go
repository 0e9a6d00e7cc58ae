// Package bus provides the channel-addressed publish/subscribe transport
// and the built-in handlers that route inter-agent messages, including the
// two-voter-plus-escalation decision protocol.
package bus

import "time"

// DecisionTier classifies how consequential a proposal is.
type DecisionTier string

const (
	TierOperational DecisionTier = "operational"
	TierMinor       DecisionTier = "minor"
	TierMajor       DecisionTier = "major"
	TierCritical    DecisionTier = "critical"
)

// DecisionStatus is the lifecycle status of a decision under vote.
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionApproved  DecisionStatus = "approved"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionVetoed    DecisionStatus = "vetoed"
	DecisionEscalated DecisionStatus = "escalated"
)

// Decision is a governance proposal working through the voting protocol.
// CEO and DAO are the two fixed voters; clevel votes are advisory input
// gathered between rounds. VetoRound counts unresolved splits so far.
type Decision struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Proposer      string            `json:"proposer"`
	Tier          DecisionTier      `json:"tier"`
	Status        DecisionStatus    `json:"status"`
	CEOVote       string            `json:"ceo_vote,omitempty"`
	CEORound      int               `json:"ceo_round"`
	DAOVote       string            `json:"dao_vote,omitempty"`
	DAORound      int               `json:"dao_round"`
	ClevelVotes   map[string]string `json:"clevel_votes,omitempty"`
	VetoRound     int               `json:"veto_round"`
	HumanOverride string            `json:"human_override,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// Resolved reports whether the decision has left pending.
func (d *Decision) Resolved() bool {
	return d.Status != DecisionPending
}

// EscalationStatus is the lifecycle of a human-intervention record.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationResponded EscalationStatus = "responded"
)

// Escalation records a request for human resolution, created on consensus
// deadlock or critical alerts.
type Escalation struct {
	ID            string           `json:"id"`
	DecisionID    string           `json:"decision_id,omitempty"`
	Reason        string           `json:"reason"`
	Channels      []string         `json:"channels"`
	HumanResponse string           `json:"human_response,omitempty"`
	Status        EscalationStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	RespondedAt   *time.Time       `json:"responded_at,omitempty"`
}

// QueueItemStatus tracks a queued task handoff to an agent.
type QueueItemStatus string

const (
	QueueItemPending      QueueItemStatus = "pending"
	QueueItemSent         QueueItemStatus = "sent"
	QueueItemAcknowledged QueueItemStatus = "acknowledged"
	QueueItemTimeout      QueueItemStatus = "timeout"
)

// QueueItem is one entry in an agent's normal task queue.
type QueueItem struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agent_id"`
	Payload   map[string]interface{} `json:"payload"`
	Status    QueueItemStatus        `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Agent is a registered agent identity known to the dispatcher.
type Agent struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Tier string `json:"tier"` // "head" or "clevel"
}
