package messages

import "time"

// StateTask is the task payload dispatched to an agent executor for one
// workflow state. The executor is expected to reply with a StateAck carrying
// the same MachineID and State.
type StateTask struct {
	MachineID      string                 `json:"machine_id"`
	State          string                 `json:"state"`
	WorkflowType   string                 `json:"workflow_type"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Prompt         string                 `json:"prompt"`
	RequiredOutput []string               `json:"required_output,omitempty"`
	Timeout        time.Duration          `json:"timeout"`
	AttemptNumber  int                    `json:"attempt_number"`
}

// StateAck is the agent executor's reported outcome for a state task.
type StateAck struct {
	MachineID  string                 `json:"machine_id"`
	State      string                 `json:"state"`
	Success    bool                   `json:"success"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	TokensUsed int                    `json:"tokens_used,omitempty"`
}

// VoteChoice is a voter's position on a decision.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteVeto    VoteChoice = "veto"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is the payload of a vote message in the decision protocol.
type Vote struct {
	DecisionID string     `json:"decision_id"`
	VoterType  string     `json:"voter_type"` // "ceo", "dao", or a clevel role
	Vote       VoteChoice `json:"vote"`
	Round      int        `json:"round"`
}

// NewStateTaskMessage wraps a StateTask in an envelope addressed to agentID.
func NewStateTaskMessage(from, agentID string, task StateTask) *AgentMessage {
	msg := NewAgentMessage(TypeStateTask, from, agentID, map[string]interface{}{
		"machine_id":      task.MachineID,
		"state":           task.State,
		"workflow_type":   task.WorkflowType,
		"context":         task.Context,
		"prompt":          task.Prompt,
		"required_output": task.RequiredOutput,
		"timeout":         task.Timeout.String(),
		"attempt_number":  task.AttemptNumber,
	})
	return msg.WithDeadline(time.Now().Add(task.Timeout))
}

// NewVoteMessage wraps a Vote in an envelope addressed to the orchestrator.
func NewVoteMessage(from string, vote Vote) *AgentMessage {
	return NewAgentMessage(TypeVote, from, ToAll, map[string]interface{}{
		"decision_id": vote.DecisionID,
		"voter_type":  vote.VoterType,
		"vote":        string(vote.Vote),
		"round":       vote.Round,
	})
}
