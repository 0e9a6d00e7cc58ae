package definition

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

// --- Helpers ---

func strptr(s string) *string { return &s }

// twoStateDefinition builds a minimal valid A -> B -> done graph.
func twoStateDefinition() *Definition {
	return &Definition{
		Type:         "weekly_report",
		AgentRole:    "cfo",
		InitialState: "draft",
		Version:      1,
		Active:       true,
		States: []State{
			{Name: "draft", Prompt: "Draft the report", OnSuccess: strptr("review"), OnFailure: strptr("draft"), Timeout: time.Minute, MaxRetries: 2},
			{Name: "review", Prompt: "Review {{draft}}", OnSuccess: nil, OnFailure: strptr("draft"), Timeout: time.Minute, MaxRetries: 1},
		},
	}
}

type fakeStore struct {
	mu   sync.Mutex
	defs map[string]*Definition
}

func newFakeStore() *fakeStore {
	return &fakeStore{defs: make(map[string]*Definition)}
}

func (f *fakeStore) UpsertDefinition(def *Definition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defs[def.Type] = def
	return nil
}

func (f *fakeStore) ListDefinitions() ([]*Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Definition, 0, len(f.defs))
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out, nil
}

// --- Validation ---

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	if err := twoStateDefinition().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingInitialState(t *testing.T) {
	def := twoStateDefinition()
	def.InitialState = "nonexistent"
	if err := def.Validate(); err == nil {
		t.Fatal("Validate() should reject unknown initial state")
	}
}

func TestValidateRejectsDanglingEdge(t *testing.T) {
	def := twoStateDefinition()
	def.States[0].OnSuccess = strptr("nowhere")
	if err := def.Validate(); err == nil {
		t.Fatal("Validate() should reject edge to unknown state")
	}
}

func TestValidateAcceptsTerminalEdge(t *testing.T) {
	def := twoStateDefinition()
	def.States[0].OnSuccess = nil // terminal after first state
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() should accept nil edge as terminal: %v", err)
	}
}

// --- Loader ---

func TestLoadDirSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	valid := `
type: weekly_report
agent_role: cfo
initial_state: draft
version: 1
active: true
states:
  - name: draft
    prompt: "Draft it"
    on_success: null
    on_failure: draft
    timeout: 1m
    max_retries: 2
`
	invalid := `
type: broken
agent_role: cto
initial_state: missing
version: 1
active: true
states:
  - name: build
    prompt: "Build"
    on_success: null
    on_failure: null
`
	if err := os.WriteFile(filepath.Join(dir, "weekly_report.yaml"), []byte(valid), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(invalid), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() unexpected error: %v", err)
	}
	if len(defs) != 1 || defs[0].Type != "weekly_report" {
		t.Fatalf("LoadDir() = %d defs, want only weekly_report", len(defs))
	}
	if defs[0].States[0].Timeout != time.Minute {
		t.Errorf("Timeout = %v, want 1m", defs[0].States[0].Timeout)
	}
}

// --- Cache ---

func TestCacheGetUnknownType(t *testing.T) {
	c := NewCache(newFakeStore())
	if _, err := c.Get("nope"); err != ErrNotFound {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestCacheGetInactiveType(t *testing.T) {
	store := newFakeStore()
	def := twoStateDefinition()
	def.Active = false
	store.UpsertDefinition(def)

	c := NewCache(store)
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(def.Type); err != ErrNotFound {
		t.Errorf("Get(inactive) = %v, want ErrNotFound", err)
	}
}

func TestCacheRoundTripPreservesGraph(t *testing.T) {
	store := newFakeStore()
	original := twoStateDefinition()
	store.UpsertDefinition(original)

	c := NewCache(store)
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(original.Type)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if got.InitialState != original.InitialState {
		t.Errorf("InitialState = %q, want %q", got.InitialState, original.InitialState)
	}
	if !reflect.DeepEqual(got.States, original.States) {
		t.Errorf("state graph changed across reload:\ngot  %+v\nwant %+v", got.States, original.States)
	}
}

func TestCacheReloadSwapsWholeMap(t *testing.T) {
	store := newFakeStore()
	store.UpsertDefinition(twoStateDefinition())
	c := NewCache(store)
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}

	// Drop the definition and reload; the old entry must disappear.
	store.mu.Lock()
	store.defs = map[string]*Definition{}
	store.mu.Unlock()
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("weekly_report"); err != ErrNotFound {
		t.Errorf("Get after reload = %v, want ErrNotFound", err)
	}
}
