package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/execsys/boardroom/internal/metrics"
	"github.com/execsys/boardroom/internal/urgent"
	"github.com/execsys/boardroom/pkg/messages"
)

// OrchestratorID is the agent identity the orchestrator itself answers on.
// Agents address decision proposals, votes, alerts and state acks to it.
const OrchestratorID = "orchestrator"

// DefaultMaxVetoRounds caps the consensus protocol before escalating to a
// human.
const DefaultMaxVetoRounds = 3

// statusReportFields are requested from an agent by default on a
// status_request.
var statusReportFields = []string{"metrics", "tasks", "blockers"}

// Store is the persistence surface the dispatcher needs. The dispatcher is
// the only writer of decisions and escalations.
type Store interface {
	CreateDecision(d *Decision) error
	GetDecision(id string) (*Decision, error)
	UpdateDecision(d *Decision) error
	CreateEscalation(e *Escalation) error
	EnqueueTask(item *QueueItem) error
}

// AckHandler receives state acks routed off the bus; implemented by the
// engine.
type AckHandler interface {
	HandleAck(ctx context.Context, ack messages.StateAck) error
}

// Heartbeats records agent liveness; implemented by the health tracker.
type Heartbeats interface {
	Record(agentID string)
}

// HandlerFunc is one entry in the dispatch table.
type HandlerFunc func(ctx context.Context, msg *messages.AgentMessage) error

// Dispatcher owns the built-in message handlers and the two publish
// primitives. It dispatches by message type through a handler table.
type Dispatcher struct {
	bus           Bus
	store         Store
	urgentQueue   urgent.Queue
	agents        map[string]Agent
	acks          AckHandler
	heartbeats    Heartbeats
	maxVetoRounds int
	handlers      map[messages.MessageType]HandlerFunc
}

// SetHeartbeats wires an optional heartbeat recorder. Any message received
// from a registered agent then counts as a heartbeat.
func (d *Dispatcher) SetHeartbeats(h Heartbeats) {
	d.heartbeats = h
}

// NewDispatcher builds the dispatcher and its handler table.
func NewDispatcher(b Bus, store Store, urgentQueue urgent.Queue, agents []Agent, acks AckHandler, maxVetoRounds int) *Dispatcher {
	if maxVetoRounds <= 0 {
		maxVetoRounds = DefaultMaxVetoRounds
	}
	byID := make(map[string]Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	d := &Dispatcher{
		bus:           b,
		store:         store,
		urgentQueue:   urgentQueue,
		agents:        byID,
		acks:          acks,
		maxVetoRounds: maxVetoRounds,
	}
	d.handlers = map[messages.MessageType]HandlerFunc{
		messages.TypeStatusRequest: d.handleStatusRequest,
		messages.TypeTask:          d.handleTask,
		messages.TypeDecision:      d.handleDecision,
		messages.TypeVote:          d.handleVote,
		messages.TypeAlert:         d.handleAlert,
		messages.TypeStateAck:      d.handleStateAck,
		// Events are informational; consuming them here keeps our own
		// broadcasts from tripping the unknown-type warning.
		messages.TypeEvent: func(ctx context.Context, msg *messages.AgentMessage) error { return nil },
	}
	return d
}

// HasAgent reports whether an agent id is registered with the dispatcher.
func (d *Dispatcher) HasAgent(id string) bool {
	_, ok := d.agents[id]
	return ok
}

// Start subscribes the dispatcher to the channels it consumes: its own
// agent channel and the broadcast channel.
func (d *Dispatcher) Start(ctx context.Context) error {
	handler := func(msg *messages.AgentMessage) {
		d.HandleMessage(ctx, msg)
	}
	if err := d.bus.Subscribe(messages.AgentChannel(OrchestratorID), handler); err != nil {
		return err
	}
	if err := d.bus.Subscribe(messages.ChannelBroadcast, handler); err != nil {
		return err
	}
	log.Printf("[Dispatcher] Listening (maxVetoRounds=%d, %d agents registered)", d.maxVetoRounds, len(d.agents))
	return nil
}

// HandleMessage dispatches one message through the handler table. Handler
// errors are logged, never propagated: a bad message must not take down the
// subscription callback.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *messages.AgentMessage) {
	if d.heartbeats != nil {
		if _, known := d.agents[msg.From]; known {
			d.heartbeats.Record(msg.From)
		}
	}
	h, ok := d.handlers[msg.Type]
	if !ok {
		log.Printf("[Dispatcher] Warning: unrecognized message type %q from %s", msg.Type, msg.From)
		metrics.Shared().MessagesHandled.WithLabelValues(string(msg.Type), "unknown").Inc()
		return
	}
	if err := h(ctx, msg); err != nil {
		log.Printf("[Dispatcher] Handler %s failed: %v", msg.Type, err)
		metrics.Shared().MessagesHandled.WithLabelValues(string(msg.Type), "error").Inc()
		return
	}
	metrics.Shared().MessagesHandled.WithLabelValues(string(msg.Type), "ok").Inc()
}

// SendToAgent publishes a message on the target's channel, stamping
// defaults for callers that built the envelope by hand.
func (d *Dispatcher) SendToAgent(ctx context.Context, agentID string, msg *messages.AgentMessage) error {
	msg.To = agentID
	d.stampDefaults(msg)
	metrics.Shared().MessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	return d.bus.Publish(ctx, messages.AgentChannel(agentID), msg)
}

// Broadcast publishes a message on the broadcast channel.
func (d *Dispatcher) Broadcast(ctx context.Context, msg *messages.AgentMessage) error {
	msg.To = messages.ToAll
	d.stampDefaults(msg)
	metrics.Shared().MessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	return d.bus.Publish(ctx, messages.ChannelBroadcast, msg)
}

// publishTo publishes to whichever channel the To field resolves to.
func (d *Dispatcher) publishTo(ctx context.Context, msg *messages.AgentMessage) error {
	d.stampDefaults(msg)
	metrics.Shared().MessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	return d.bus.Publish(ctx, messages.ChannelFor(msg.To), msg)
}

func (d *Dispatcher) stampDefaults(msg *messages.AgentMessage) {
	if msg.ID == "" {
		msg.ID = messages.NewID("msg")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Priority == "" {
		msg.Priority = messages.PriorityNormal
	}
}

// --- Built-in handlers ---

// handleStatusRequest enqueues a status-gathering task to the target agent.
// Unknown agents are a silent no-op; the requester learns nothing either way.
func (d *Dispatcher) handleStatusRequest(ctx context.Context, msg *messages.AgentMessage) error {
	agentID := stringField(msg.Payload, "agent_id")
	if agentID == "" {
		agentID = msg.To
	}
	if _, ok := d.agents[agentID]; !ok {
		return nil
	}

	item := &QueueItem{
		ID:      messages.NewID("qi"),
		AgentID: agentID,
		Payload: map[string]interface{}{
			"action": "status_report",
			"fields": statusReportFields,
		},
		Status:    QueueItemPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return d.store.EnqueueTask(item)
}

// handleTask enqueues the task to the target agent's normal queue; urgent
// tasks additionally land on the urgent queue for low-latency draining.
func (d *Dispatcher) handleTask(ctx context.Context, msg *messages.AgentMessage) error {
	agentID := stringField(msg.Payload, "agent_id")
	if agentID == "" {
		agentID = msg.To
	}

	item := &QueueItem{
		ID:        messages.NewID("qi"),
		AgentID:   agentID,
		Payload:   msg.Payload,
		Status:    QueueItemPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := d.store.EnqueueTask(item); err != nil {
		return err
	}

	if msg.Priority == messages.PriorityUrgent {
		if err := d.urgentQueue.Push(ctx, urgent.Item{
			AgentID:  agentID,
			TaskID:   item.ID,
			Priority: string(msg.Priority),
		}); err != nil {
			return fmt.Errorf("failed to push urgent item: %w", err)
		}
	}
	return nil
}

// handleDecision creates the decision record and solicits round-1 votes
// from the head tier.
func (d *Dispatcher) handleDecision(ctx context.Context, msg *messages.AgentMessage) error {
	tier := DecisionTier(stringField(msg.Payload, "tier"))
	if tier == "" {
		tier = TierMajor
	}

	dec := &Decision{
		ID:          messages.NewID("dec"),
		Title:       stringField(msg.Payload, "title"),
		Description: stringField(msg.Payload, "description"),
		Proposer:    msg.From,
		Tier:        tier,
		Status:      DecisionPending,
		ClevelVotes: make(map[string]string),
		CreatedAt:   time.Now(),
	}
	if err := d.store.CreateDecision(dec); err != nil {
		return fmt.Errorf("failed to create decision: %w", err)
	}
	log.Printf("[Dispatcher] Decision %s proposed by %s (tier=%s): %s", dec.ID, dec.Proposer, dec.Tier, dec.Title)

	request := messages.NewAgentMessage(messages.TypeVote, OrchestratorID, messages.TierHead, map[string]interface{}{
		"action":      "request_votes",
		"decision_id": dec.ID,
		"title":       dec.Title,
		"round":       1,
	})
	return d.publishTo(ctx, request)
}

// handleVote records one vote and evaluates the consensus protocol. The
// handler is idempotent for partial rounds: nothing resolves until both
// fixed voters have voted in the active round.
func (d *Dispatcher) handleVote(ctx context.Context, msg *messages.AgentMessage) error {
	if stringField(msg.Payload, "action") == "request_votes" {
		return nil // our own solicitation echoed back on broadcast
	}

	decisionID := stringField(msg.Payload, "decision_id")
	voterType := stringField(msg.Payload, "voter_type")
	choice := stringField(msg.Payload, "vote")

	dec, err := d.store.GetDecision(decisionID)
	if err != nil {
		return err
	}
	if dec == nil {
		log.Printf("[Dispatcher] Vote for unknown decision %s dropped", decisionID)
		return nil
	}
	if dec.Resolved() {
		log.Printf("[Dispatcher] Vote for resolved decision %s dropped", decisionID)
		return nil
	}

	activeRound := dec.VetoRound + 1
	switch voterType {
	case "ceo":
		dec.CEOVote = choice
		dec.CEORound = activeRound
	case "dao":
		dec.DAOVote = choice
		dec.DAORound = activeRound
	default:
		if dec.ClevelVotes == nil {
			dec.ClevelVotes = make(map[string]string)
		}
		dec.ClevelVotes[voterType] = choice
	}

	// Evaluate only once both fixed voters are in for this round.
	if dec.CEORound != activeRound || dec.DAORound != activeRound {
		return d.store.UpdateDecision(dec)
	}

	switch {
	case dec.CEOVote == string(messages.VoteApprove) && dec.DAOVote == string(messages.VoteApprove):
		return d.resolveDecision(ctx, dec, DecisionApproved)
	case dec.CEOVote == string(messages.VoteVeto) && dec.DAOVote == string(messages.VoteVeto):
		return d.resolveDecision(ctx, dec, DecisionVetoed)
	default:
		return d.handleSplit(ctx, dec)
	}
}

// handleSplit advances a deadlocked decision one veto round: solicit
// clevel analysis while rounds remain, escalate to a human at the cap.
func (d *Dispatcher) handleSplit(ctx context.Context, dec *Decision) error {
	dec.VetoRound++
	log.Printf("[Dispatcher] Decision %s split (veto round %d/%d)", dec.ID, dec.VetoRound, d.maxVetoRounds)

	if dec.VetoRound < d.maxVetoRounds {
		if err := d.store.UpdateDecision(dec); err != nil {
			return err
		}
		analysis := messages.NewAgentMessage(messages.TypeDecision, OrchestratorID, messages.TierClevel, map[string]interface{}{
			"action":      "provide_analysis",
			"decision_id": dec.ID,
			"title":       dec.Title,
			"round":       dec.VetoRound + 1,
		})
		return d.publishTo(ctx, analysis)
	}

	dec.Status = DecisionEscalated
	now := time.Now()
	dec.ResolvedAt = &now
	if err := d.store.UpdateDecision(dec); err != nil {
		return err
	}
	metrics.Shared().DecisionsResolved.WithLabelValues(string(DecisionEscalated)).Inc()

	if err := d.createEscalation(dec.ID,
		fmt.Sprintf("decision %q deadlocked after %d veto rounds", dec.Title, dec.VetoRound),
		[]string{"telegram"},
	); err != nil {
		return err
	}
	return d.broadcastResolution(ctx, dec)
}

func (d *Dispatcher) resolveDecision(ctx context.Context, dec *Decision, status DecisionStatus) error {
	dec.Status = status
	now := time.Now()
	dec.ResolvedAt = &now
	if err := d.store.UpdateDecision(dec); err != nil {
		return err
	}
	metrics.Shared().DecisionsResolved.WithLabelValues(string(status)).Inc()
	log.Printf("[Dispatcher] Decision %s resolved: %s", dec.ID, status)
	return d.broadcastResolution(ctx, dec)
}

func (d *Dispatcher) broadcastResolution(ctx context.Context, dec *Decision) error {
	result := messages.NewAgentMessage(messages.TypeEvent, OrchestratorID, messages.ToAll, map[string]interface{}{
		"event":       "decision_resolved",
		"decision_id": dec.ID,
		"title":       dec.Title,
		"status":      string(dec.Status),
	})
	return d.Broadcast(ctx, result)
}

// handleAlert logs every alert; critical alerts additionally create a human
// escalation notified on all channels.
func (d *Dispatcher) handleAlert(ctx context.Context, msg *messages.AgentMessage) error {
	severity := stringField(msg.Payload, "severity")
	reason := stringField(msg.Payload, "message")
	log.Printf("[Dispatcher] Alert from %s (severity=%s): %s", msg.From, severity, reason)

	if severity != "critical" {
		return nil
	}
	return d.createEscalation("", fmt.Sprintf("critical alert from %s: %s", msg.From, reason), []string{"telegram", "email"})
}

func (d *Dispatcher) createEscalation(decisionID, reason string, channels []string) error {
	esc := &Escalation{
		ID:         messages.NewID("esc"),
		DecisionID: decisionID,
		Reason:     reason,
		Channels:   channels,
		Status:     EscalationPending,
		CreatedAt:  time.Now(),
	}
	if err := d.store.CreateEscalation(esc); err != nil {
		return fmt.Errorf("failed to create escalation: %w", err)
	}
	metrics.Shared().Escalations.Inc()
	log.Printf("[Dispatcher] Escalation %s created: %s (channels=%v)", esc.ID, reason, channels)
	return nil
}

// handleStateAck routes an agent's state outcome to the engine.
func (d *Dispatcher) handleStateAck(ctx context.Context, msg *messages.AgentMessage) error {
	if d.acks == nil {
		return nil
	}
	ack := messages.StateAck{
		MachineID: stringField(msg.Payload, "machine_id"),
		State:     stringField(msg.Payload, "state"),
		Error:     stringField(msg.Payload, "error"),
	}
	if success, ok := msg.Payload["success"].(bool); ok {
		ack.Success = success
	}
	if output, ok := msg.Payload["output"].(map[string]interface{}); ok {
		ack.Output = output
	}
	if tokens, ok := msg.Payload["tokens_used"].(float64); ok {
		ack.TokensUsed = int(tokens)
	}
	return d.acks.HandleAck(ctx, ack)
}

func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
