package messages

import (
	"strings"
	"testing"
	"time"
)

func TestNewAgentMessageDefaults(t *testing.T) {
	msg := NewAgentMessage(TypeTask, "ceo-1", "cfo-1", map[string]interface{}{"k": "v"})

	if !strings.HasPrefix(msg.ID, "msg-") {
		t.Errorf("ID = %q, want msg- prefix", msg.ID)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("Priority = %q, want normal", msg.Priority)
	}
	if msg.RequiresResponse {
		t.Error("RequiresResponse should default to false")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be stamped")
	}
}

func TestWithDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	msg := NewAgentMessage(TypeStatusRequest, "system", "cto-1", nil).WithDeadline(deadline)

	if !msg.RequiresResponse {
		t.Error("WithDeadline should set RequiresResponse")
	}
	if msg.ResponseDeadline == nil || !msg.ResponseDeadline.Equal(deadline) {
		t.Errorf("ResponseDeadline = %v, want %v", msg.ResponseDeadline, deadline)
	}
}

func TestChannelFor(t *testing.T) {
	tests := []struct {
		to   string
		want string
	}{
		{ToAll, ChannelBroadcast},
		{"", ChannelBroadcast},
		{TierHead, ChannelHead},
		{TierClevel, ChannelClevel},
		{"cfo-1", "boardroom.agents.cfo-1"},
	}
	for _, tt := range tests {
		if got := ChannelFor(tt.to); got != tt.want {
			t.Errorf("ChannelFor(%q) = %q, want %q", tt.to, got, tt.want)
		}
	}
}

func TestNewStateTaskMessage(t *testing.T) {
	task := StateTask{
		MachineID:     "mach-1",
		State:         "draft_report",
		WorkflowType:  "weekly_report",
		Prompt:        "Draft the report",
		Timeout:       30 * time.Second,
		AttemptNumber: 1,
	}
	msg := NewStateTaskMessage("engine", "cfo-1", task)

	if msg.Type != TypeStateTask {
		t.Errorf("Type = %q, want state_task", msg.Type)
	}
	if msg.To != "cfo-1" {
		t.Errorf("To = %q, want cfo-1", msg.To)
	}
	if !msg.RequiresResponse || msg.ResponseDeadline == nil {
		t.Error("state_task should require a response with a deadline")
	}
	if msg.Payload["machine_id"] != "mach-1" {
		t.Errorf("payload machine_id = %v", msg.Payload["machine_id"])
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID("dec"), NewID("dec")
	if a == b {
		t.Errorf("NewID returned duplicate: %s", a)
	}
	if !strings.HasPrefix(a, "dec-") {
		t.Errorf("NewID prefix wrong: %s", a)
	}
}
