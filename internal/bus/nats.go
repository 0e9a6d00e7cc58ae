package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/execsys/boardroom/pkg/messages"
)

// NATSBus implements Bus over NATS with JetStream for durable delivery.
type NATSBus struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	subscriptions map[string]*nats.Subscription
	streamName    string
	url           string
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "BOARDROOM")
	Timeout    time.Duration // Connection timeout
}

// NewNATSBus connects to NATS and ensures the JetStream stream exists.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "BOARDROOM"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Bus] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Bus] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &NATSBus{
		conn:          nc,
		js:            js,
		subscriptions: make(map[string]*nats.Subscription),
		streamName:    cfg.StreamName,
		url:           cfg.URL,
	}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[Bus] Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return b, nil
}

// ensureStream creates or updates the stream covering all boardroom
// subjects. Uses LimitsPolicy so multiple consumers can subscribe to the
// same subjects, which the broadcast and tier channels require.
func (b *NATSBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"boardroom.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[Bus] Created JetStream stream: %s", b.streamName)
		return nil
	}
	if _, err := b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

var _ Bus = (*NATSBus)(nil)

// Publish marshals the envelope and publishes it to the channel subject.
func (b *NATSBus) Publish(ctx context.Context, channel string, msg *messages.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := b.js.Publish(channel, data); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", channel, err)
	}
	return nil
}

// Subscribe sets up a durable consumer on the channel. The broadcast and
// tier channels use core NATS subscriptions for fan-out; per-agent channels
// get durable work-style consumers.
func (b *NATSBus) Subscribe(channel string, handler Handler) error {
	unmarshal := func(data []byte) *messages.AgentMessage {
		var msg messages.AgentMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Bus] Failed to unmarshal message on %s: %v", channel, err)
			return nil
		}
		return &msg
	}

	if channel == messages.ChannelBroadcast || channel == messages.ChannelHead || channel == messages.ChannelClevel {
		sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
			if msg := unmarshal(m.Data); msg != nil {
				handler(msg)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		b.subscriptions[channel] = sub
		log.Printf("[Bus] Subscribed to %s (fan-out)", channel)
		return nil
	}

	consumerName := consumerNameFor(channel)
	sub, err := b.js.Subscribe(channel, func(m *nats.Msg) {
		msg := unmarshal(m.Data)
		if msg == nil {
			_ = m.Nak()
			return
		}
		handler(msg)
		_ = m.Ack()
	},
		nats.Durable(consumerName),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	b.subscriptions[channel] = sub
	log.Printf("[Bus] Subscribed to %s with consumer %s", channel, consumerName)
	return nil
}

func consumerNameFor(channel string) string {
	out := make([]rune, 0, len(channel))
	for _, ch := range channel {
		if ch == '.' || ch == '>' || ch == '*' {
			out = append(out, '-')
			continue
		}
		out = append(out, ch)
	}
	return string(out)
}

// Unsubscribe removes a subscription.
func (b *NATSBus) Unsubscribe(channel string) error {
	sub, ok := b.subscriptions[channel]
	if !ok {
		return fmt.Errorf("no subscription found for %s", channel)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	delete(b.subscriptions, channel)
	return nil
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	for channel := range b.subscriptions {
		_ = b.Unsubscribe(channel)
	}
	b.conn.Close()
	log.Printf("[Bus] Closed NATS connection")
	return nil
}

// Health reports connection and stream status.
func (b *NATSBus) Health() error {
	if b.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", b.streamName, err)
	}
	return nil
}

// Stats returns statistics about the message bus.
func (b *NATSBus) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"url":           b.url,
		"stream":        b.streamName,
		"connected":     b.conn.IsConnected(),
		"subscriptions": len(b.subscriptions),
	}
	if info, err := b.js.StreamInfo(b.streamName); err == nil {
		stats["stream_messages"] = info.State.Msgs
		stats["stream_bytes"] = info.State.Bytes
		stats["stream_consumers"] = info.State.Consumers
	}
	return stats
}
