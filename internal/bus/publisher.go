package bus

import (
	"context"

	"github.com/execsys/boardroom/internal/metrics"
	"github.com/execsys/boardroom/pkg/messages"
)

// TaskPublisher adapts the bus to the engine's publisher surface: state
// tasks go to the target's channel, engine events to the broadcast channel.
type TaskPublisher struct {
	bus Bus
}

// NewTaskPublisher wraps a bus for the engine.
func NewTaskPublisher(b Bus) *TaskPublisher {
	return &TaskPublisher{bus: b}
}

// PublishStateTask addresses a state task to an agent id or role name.
func (p *TaskPublisher) PublishStateTask(ctx context.Context, to string, task messages.StateTask) error {
	msg := messages.NewStateTaskMessage(OrchestratorID, to, task)
	metrics.Shared().MessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	return p.bus.Publish(ctx, messages.ChannelFor(to), msg)
}

// PublishEvent broadcasts an engine lifecycle event.
func (p *TaskPublisher) PublishEvent(ctx context.Context, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["event"] = eventType
	msg := messages.NewAgentMessage(messages.TypeEvent, OrchestratorID, messages.ToAll, payload)
	metrics.Shared().MessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	return p.bus.Publish(ctx, messages.ChannelBroadcast, msg)
}
