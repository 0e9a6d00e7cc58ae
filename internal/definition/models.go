// Package definition loads and caches workflow definitions: named state
// graphs that the engine instantiates into machine instances.
package definition

import (
	"fmt"
	"time"
)

// SkipCondition is a predicate over the machine context evaluated on state
// entry. When it holds, the state is skipped and the machine advances
// directly along the state's own OnSuccess edge.
//
// With Equals set, the condition holds when the stringified context value
// matches Equals. Without Equals, it holds when the field is absent or falsy
// ("optional step: run only when the flag is set").
type SkipCondition struct {
	Field  string `yaml:"field" json:"field"`
	Equals string `yaml:"equals,omitempty" json:"equals,omitempty"`
}

// State is one step of a workflow: a prompt for the agent, the output it
// must produce, retry/timeout policy, and the success/failure edges.
// A nil OnSuccess means the workflow completes after this state.
type State struct {
	Name           string         `yaml:"name" json:"name"`
	Prompt         string         `yaml:"prompt" json:"prompt"`
	RequiredOutput []string       `yaml:"required_output,omitempty" json:"required_output,omitempty"`
	OnSuccess      *string        `yaml:"on_success" json:"on_success"`
	OnFailure      *string        `yaml:"on_failure" json:"on_failure"`
	Timeout        time.Duration  `yaml:"timeout" json:"timeout"`
	MaxRetries     int            `yaml:"max_retries" json:"max_retries"`
	Skip           *SkipCondition `yaml:"skip,omitempty" json:"skip,omitempty"`
}

// Trigger configures how fresh machine instances get created for a
// definition: on demand only, or on a wall-clock interval.
type Trigger struct {
	IntervalSeconds int `yaml:"interval_seconds,omitempty" json:"interval_seconds,omitempty"`
}

// Definition is a named template for a multi-step agent workflow.
type Definition struct {
	Type         string   `yaml:"type" json:"type"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	AgentRole    string   `yaml:"agent_role" json:"agent_role"`
	States       []State  `yaml:"states" json:"states"`
	InitialState string   `yaml:"initial_state" json:"initial_state"`
	Trigger      *Trigger `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Version      int      `yaml:"version" json:"version"`
	Active       bool     `yaml:"active" json:"active"`
}

// StateByName returns the named state, or nil if the definition has none.
func (d *Definition) StateByName(name string) *State {
	for i := range d.States {
		if d.States[i].Name == name {
			return &d.States[i]
		}
	}
	return nil
}

// Validate checks the state graph: the initial state must exist, and every
// non-nil success/failure edge must name an existing state.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("definition has no type")
	}
	if len(d.States) == 0 {
		return fmt.Errorf("definition %s has no states", d.Type)
	}
	if d.StateByName(d.InitialState) == nil {
		return fmt.Errorf("definition %s: initial state %q not found", d.Type, d.InitialState)
	}
	for _, s := range d.States {
		if s.OnSuccess != nil && d.StateByName(*s.OnSuccess) == nil {
			return fmt.Errorf("definition %s: state %s on_success references unknown state %q", d.Type, s.Name, *s.OnSuccess)
		}
		if s.OnFailure != nil && d.StateByName(*s.OnFailure) == nil {
			return fmt.Errorf("definition %s: state %s on_failure references unknown state %q", d.Type, s.Name, *s.OnFailure)
		}
	}
	return nil
}
