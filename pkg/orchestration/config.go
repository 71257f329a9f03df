// Package orchestration implements the per-session step state machine:
// declarative step configuration, condition-driven step resolution, tool
// catalog filtering, and ordered tool sequences.
package orchestration

import "fmt"

// ConditionType tags a step activation condition.
type ConditionType string

// ConditionToolUsed activates a step once the named tool appears in the
// session's recently used tools.
const ConditionToolUsed ConditionType = "tool_used"

// Condition is one activation requirement of a step. All of a step's
// conditions must hold for the step to activate.
type Condition struct {
	Type  ConditionType `yaml:"type" json:"type"`
	Value string        `yaml:"value" json:"value"`
}

// Validate checks the condition.
func (c *Condition) Validate() error {
	if c.Type != ConditionToolUsed {
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	if c.Value == "" {
		return fmt.Errorf("condition of type %q requires a value", c.Type)
	}
	return nil
}

// AvailableTools restricts the tool catalog for a step. Allowed and
// Denied are mutually exclusive.
type AvailableTools struct {
	Allowed []string `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	Denied  []string `yaml:"denied,omitempty" json:"denied,omitempty"`
}

// Validate checks the filter lists.
func (a *AvailableTools) Validate() error {
	if len(a.Allowed) > 0 && len(a.Denied) > 0 {
		return fmt.Errorf("allowed and denied tool lists are mutually exclusive")
	}
	return nil
}

// Step is one named node of the orchestration state machine.
type Step struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// IsDefault marks the fallback step; at most one per config.
	IsDefault bool `yaml:"is_default,omitempty" json:"is_default,omitempty"`

	// Conditions gate activation. A non-default step with no conditions
	// never activates.
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// AvailableTools filters the catalog when the step has no Sequence.
	AvailableTools *AvailableTools `yaml:"available_tools,omitempty" json:"available_tools,omitempty"`

	// Sequence forces tools to be offered one at a time, in order.
	Sequence []string `yaml:"sequence,omitempty" json:"sequence,omitempty"`
}

// Validate checks the step definition.
func (s *Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	for i := range s.Conditions {
		if err := s.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("step %q condition %d: %w", s.Name, i, err)
		}
	}
	if s.AvailableTools != nil {
		if err := s.AvailableTools.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	for _, tool := range s.Sequence {
		if tool == "" {
			return fmt.Errorf("step %q has an empty sequence entry", s.Name)
		}
	}
	return nil
}

// Config is the ordered step list supplied per turn. It is read-only
// input; nothing in it is persisted into sessions except step names.
type Config struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// Validate checks step uniqueness and the single-default rule.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Steps))
	defaults := 0
	for i := range c.Steps {
		step := &c.Steps[i]
		if err := step.Validate(); err != nil {
			return err
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
		if step.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one step may be the default, found %d", defaults)
	}
	return nil
}

// Step returns the named step, or nil.
func (c *Config) Step(name string) *Step {
	if c == nil {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].Name == name {
			return &c.Steps[i]
		}
	}
	return nil
}

// Default returns the step flagged IsDefault, or nil.
func (c *Config) Default() *Step {
	if c == nil {
		return nil
	}
	for i := range c.Steps {
		if c.Steps[i].IsDefault {
			return &c.Steps[i]
		}
	}
	return nil
}
