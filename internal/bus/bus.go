package bus

import (
	"context"
	"sync"

	"github.com/execsys/boardroom/pkg/messages"
)

// Handler consumes one message from a subscribed channel.
type Handler func(msg *messages.AgentMessage)

// Bus is the channel-addressed pub/sub transport. Delivery order is
// preserved within a channel; there is no ordering across channels.
type Bus interface {
	Publish(ctx context.Context, channel string, msg *messages.AgentMessage) error
	Subscribe(channel string, handler Handler) error
	Health() error
	Close() error
}

// MemoryBus is an in-process Bus used in tests and single-node dev mode.
// Publish delivers synchronously to subscribers in registration order, which
// trivially preserves per-channel ordering.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(ctx context.Context, channel string, msg *messages.AgentMessage) error {
	b.mu.RLock()
	subs := append([]Handler(nil), b.handlers[channel]...)
	b.mu.RUnlock()

	for _, h := range subs {
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

func (b *MemoryBus) Health() error {
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]Handler)
	b.closed = true
	return nil
}
