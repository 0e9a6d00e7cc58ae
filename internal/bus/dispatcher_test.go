package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/execsys/boardroom/internal/urgent"
	"github.com/execsys/boardroom/pkg/messages"
)

// --- Fakes ---

type fakeStore struct {
	mu          sync.Mutex
	decisions   map[string]*Decision
	escalations []*Escalation
	queue       []*QueueItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{decisions: make(map[string]*Decision)}
}

func copyDecision(d *Decision) *Decision {
	cp := *d
	cp.ClevelVotes = make(map[string]string, len(d.ClevelVotes))
	for k, v := range d.ClevelVotes {
		cp.ClevelVotes[k] = v
	}
	return &cp
}

func (f *fakeStore) CreateDecision(d *Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[d.ID] = copyDecision(d)
	return nil
}

func (f *fakeStore) GetDecision(id string) (*Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.decisions[id]
	if !ok {
		return nil, nil
	}
	return copyDecision(d), nil
}

func (f *fakeStore) UpdateDecision(d *Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[d.ID] = copyDecision(d)
	return nil
}

func (f *fakeStore) CreateEscalation(e *Escalation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, e)
	return nil
}

func (f *fakeStore) EnqueueTask(item *QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, item)
	return nil
}

func (f *fakeStore) onlyDecision(t *testing.T) *Decision {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.decisions) != 1 {
		t.Fatalf("store has %d decisions, want 1", len(f.decisions))
	}
	for _, d := range f.decisions {
		return copyDecision(d)
	}
	return nil
}

// --- Fixture ---

type busFixture struct {
	dispatcher *Dispatcher
	bus        *MemoryBus
	store      *fakeStore
	urgentQ    *urgent.MemoryQueue

	mu         sync.Mutex
	broadcasts []*messages.AgentMessage
	clevel     []*messages.AgentMessage
	head       []*messages.AgentMessage
}

func newBusFixture(t *testing.T, maxVetoRounds int, agents ...Agent) *busFixture {
	t.Helper()
	fx := &busFixture{
		bus:     NewMemoryBus(),
		store:   newFakeStore(),
		urgentQ: urgent.NewMemoryQueue(),
	}
	if len(agents) == 0 {
		agents = []Agent{
			{ID: "ceo-1", Role: "ceo", Tier: messages.TierHead},
			{ID: "dao-1", Role: "dao", Tier: messages.TierHead},
			{ID: "cfo-1", Role: "cfo", Tier: messages.TierClevel},
		}
	}
	fx.dispatcher = NewDispatcher(fx.bus, fx.store, fx.urgentQ, agents, nil, maxVetoRounds)

	record := func(dst *[]*messages.AgentMessage) Handler {
		return func(msg *messages.AgentMessage) {
			fx.mu.Lock()
			*dst = append(*dst, msg)
			fx.mu.Unlock()
		}
	}
	fx.bus.Subscribe(messages.ChannelBroadcast, record(&fx.broadcasts))
	fx.bus.Subscribe(messages.ChannelClevel, record(&fx.clevel))
	fx.bus.Subscribe(messages.ChannelHead, record(&fx.head))
	return fx
}

func (fx *busFixture) propose(t *testing.T, title string) *Decision {
	t.Helper()
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeDecision, "ceo-1", OrchestratorID, map[string]interface{}{
			"title":       title,
			"description": "test proposal",
		}))
	return fx.store.onlyDecision(t)
}

func (fx *busFixture) vote(voterType string, choice messages.VoteChoice, decisionID string) {
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeVote, voterType+"-1", OrchestratorID, map[string]interface{}{
			"decision_id": decisionID,
			"voter_type":  voterType,
			"vote":        string(choice),
		}))
}

func (fx *busFixture) resolutionBroadcasts() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	n := 0
	for _, msg := range fx.broadcasts {
		if msg.Type == messages.TypeEvent && stringField(msg.Payload, "event") == "decision_resolved" {
			n++
		}
	}
	return n
}

// --- Decision protocol ---

func TestDecisionDefaultsToMajorTier(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Acquire competitor")

	if dec.Tier != TierMajor {
		t.Errorf("Tier = %s, want major default", dec.Tier)
	}
	if dec.Status != DecisionPending || dec.VetoRound != 0 {
		t.Errorf("new decision should be pending at round 0: %+v", dec)
	}
	// Round-1 vote solicitation goes to the head tier.
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.head) != 1 || fx.head[0].Type != messages.TypeVote {
		t.Fatalf("expected one vote request on head channel, got %d", len(fx.head))
	}
}

func TestUnanimousApprove(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Hire a data team")

	fx.vote("ceo", messages.VoteApprove, dec.ID)
	fx.vote("dao", messages.VoteApprove, dec.ID)

	got := fx.store.onlyDecision(t)
	if got.Status != DecisionApproved {
		t.Errorf("Status = %s, want approved", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt should be stamped")
	}
	if n := fx.resolutionBroadcasts(); n != 1 {
		t.Errorf("resolution broadcasts = %d, want exactly 1", n)
	}
}

func TestUnanimousVeto(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Sunset the product")

	fx.vote("ceo", messages.VoteVeto, dec.ID)
	fx.vote("dao", messages.VoteVeto, dec.ID)

	if got := fx.store.onlyDecision(t); got.Status != DecisionVetoed {
		t.Errorf("Status = %s, want vetoed", got.Status)
	}
}

func TestPartialVoteDoesNotEvaluate(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Change pricing")

	fx.vote("ceo", messages.VoteApprove, dec.ID)

	got := fx.store.onlyDecision(t)
	if got.Status != DecisionPending {
		t.Errorf("Status = %s, want still pending after one fixed voter", got.Status)
	}
	if got.VetoRound != 0 {
		t.Errorf("VetoRound = %d, want 0", got.VetoRound)
	}
	if n := fx.resolutionBroadcasts(); n != 0 {
		t.Errorf("resolution broadcasts = %d, want 0", n)
	}
}

func TestSplitSolicitsClevelAnalysis(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Rewrite in another stack")

	fx.vote("ceo", messages.VoteApprove, dec.ID)
	fx.vote("dao", messages.VoteVeto, dec.ID)

	got := fx.store.onlyDecision(t)
	if got.Status != DecisionPending || got.VetoRound != 1 {
		t.Fatalf("after split: status=%s round=%d, want pending/1", got.Status, got.VetoRound)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.clevel) != 1 {
		t.Fatalf("clevel messages = %d, want 1 provide_analysis request", len(fx.clevel))
	}
	if stringField(fx.clevel[0].Payload, "action") != "provide_analysis" {
		t.Errorf("clevel payload = %v", fx.clevel[0].Payload)
	}
}

func TestDeadlockEscalatesExactlyOnce(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Dissolve the board")

	// Three rounds of alternating split votes.
	for round := 0; round < 3; round++ {
		fx.vote("ceo", messages.VoteApprove, dec.ID)
		fx.vote("dao", messages.VoteVeto, dec.ID)
	}

	got := fx.store.onlyDecision(t)
	if got.Status != DecisionEscalated {
		t.Fatalf("Status = %s, want escalated", got.Status)
	}
	if got.VetoRound != 3 {
		t.Errorf("VetoRound = %d, want 3", got.VetoRound)
	}
	if len(fx.store.escalations) != 1 {
		t.Fatalf("escalations = %d, want exactly 1", len(fx.store.escalations))
	}
	esc := fx.store.escalations[0]
	if esc.DecisionID != dec.ID || esc.Status != EscalationPending {
		t.Errorf("escalation wrong: %+v", esc)
	}
	if len(esc.Channels) != 1 || esc.Channels[0] != "telegram" {
		t.Errorf("escalation channels = %v, want [telegram]", esc.Channels)
	}

	// Two analysis requests went out (after rounds 1 and 2), none for round 3.
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.clevel) != 2 {
		t.Errorf("clevel analysis requests = %d, want 2", len(fx.clevel))
	}
}

func TestVoteForResolvedDecisionDropped(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Approve budget")

	fx.vote("ceo", messages.VoteApprove, dec.ID)
	fx.vote("dao", messages.VoteApprove, dec.ID)
	fx.vote("dao", messages.VoteVeto, dec.ID) // late, must not flip status

	if got := fx.store.onlyDecision(t); got.Status != DecisionApproved {
		t.Errorf("Status = %s, late vote mutated a resolved decision", got.Status)
	}
}

func TestClevelVotesRecordedAsAdvisory(t *testing.T) {
	fx := newBusFixture(t, 3)
	dec := fx.propose(t, "Open a new office")

	fx.vote("cfo", messages.VoteVeto, dec.ID)

	got := fx.store.onlyDecision(t)
	if got.Status != DecisionPending {
		t.Errorf("clevel vote alone must not resolve, status = %s", got.Status)
	}
	if got.ClevelVotes["cfo"] != string(messages.VoteVeto) {
		t.Errorf("ClevelVotes = %v, want cfo recorded", got.ClevelVotes)
	}
}

// --- Task routing ---

func TestTaskEnqueuedToNormalQueue(t *testing.T) {
	fx := newBusFixture(t, 3)
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeTask, "ceo-1", "cfo-1", map[string]interface{}{"title": "close the books"}))

	if len(fx.store.queue) != 1 {
		t.Fatalf("queue = %d items, want 1", len(fx.store.queue))
	}
	item := fx.store.queue[0]
	if item.AgentID != "cfo-1" || item.Status != QueueItemPending {
		t.Errorf("queue item wrong: %+v", item)
	}
	if n, _ := fx.urgentQ.Len(context.Background()); n != 0 {
		t.Errorf("normal task landed on urgent queue")
	}
}

func TestUrgentTaskAlsoPushedToUrgentQueue(t *testing.T) {
	fx := newBusFixture(t, 3)
	msg := messages.NewAgentMessage(messages.TypeTask, "ceo-1", "cfo-1", map[string]interface{}{"title": "wire funds"})
	msg.WithPriority(messages.PriorityUrgent)
	fx.dispatcher.HandleMessage(context.Background(), msg)

	if len(fx.store.queue) != 1 {
		t.Fatalf("queue = %d items, want 1", len(fx.store.queue))
	}
	items, err := fx.urgentQ.PopBatch(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].AgentID != "cfo-1" || items[0].TaskID != fx.store.queue[0].ID {
		t.Errorf("urgent item wrong: %+v", items)
	}
}

func TestStatusRequestEnqueuesDefaultFields(t *testing.T) {
	fx := newBusFixture(t, 3)
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeStatusRequest, "system", "cfo-1", nil))

	if len(fx.store.queue) != 1 {
		t.Fatalf("queue = %d items, want 1", len(fx.store.queue))
	}
	fields, ok := fx.store.queue[0].Payload["fields"].([]string)
	if !ok || len(fields) != 3 {
		t.Errorf("status task fields = %v, want metrics/tasks/blockers", fx.store.queue[0].Payload)
	}
}

func TestStatusRequestUnknownAgentIsNoop(t *testing.T) {
	fx := newBusFixture(t, 3)
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeStatusRequest, "system", "ghost-9", nil))

	if len(fx.store.queue) != 0 {
		t.Errorf("unknown agent should be a silent no-op, queue = %d", len(fx.store.queue))
	}
}

// --- Alerts and unknown types ---

func TestCriticalAlertCreatesEscalation(t *testing.T) {
	fx := newBusFixture(t, 3)
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeAlert, "cfo-1", OrchestratorID, map[string]interface{}{
			"severity": "critical",
			"message":  "treasury wallet drained",
		}))

	if len(fx.store.escalations) != 1 {
		t.Fatalf("escalations = %d, want 1", len(fx.store.escalations))
	}
	esc := fx.store.escalations[0]
	if len(esc.Channels) != 2 {
		t.Errorf("channels = %v, want [telegram email]", esc.Channels)
	}
}

func TestWarningAlertDoesNotEscalate(t *testing.T) {
	fx := newBusFixture(t, 3)
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.TypeAlert, "cfo-1", OrchestratorID, map[string]interface{}{
			"severity": "warning",
			"message":  "burn rate up 5%",
		}))

	if len(fx.store.escalations) != 0 {
		t.Errorf("warning alert created %d escalations", len(fx.store.escalations))
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	fx := newBusFixture(t, 3)
	// Must log a warning and change nothing; mainly must not panic.
	fx.dispatcher.HandleMessage(context.Background(),
		messages.NewAgentMessage(messages.MessageType("quantum_sync"), "x", "y", nil))

	if len(fx.store.queue) != 0 || len(fx.store.escalations) != 0 {
		t.Error("unknown type mutated state")
	}
}

// --- MemoryBus ordering ---

func TestMemoryBusPreservesPerChannelOrder(t *testing.T) {
	b := NewMemoryBus()
	var got []string
	b.Subscribe("boardroom.agents.cfo-1", func(msg *messages.AgentMessage) {
		got = append(got, msg.ID)
	})

	want := []string{"a", "b", "c", "d"}
	for _, id := range want {
		msg := messages.NewAgentMessage(messages.TypeTask, "x", "cfo-1", nil)
		msg.ID = id
		if err := b.Publish(context.Background(), "boardroom.agents.cfo-1", msg); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("delivered %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order broken: got %v", got)
		}
	}
}
