package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/autoreply/internal/rule"
)

// DefaultOrigin is the origin of scenario messages and the allowed source
// when a scenario has no gates section.
const DefaultOrigin = "chat"

// Scenario defines an auto-reply conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Gates is the initial gate configuration. Nil means enabled with
	// DefaultOrigin allowed.
	Gates *GateSpec `yaml:"gates,omitempty"`

	// Rules seeds the rule store in the given order.
	Rules []rule.Rule `yaml:"rules"`

	// Steps drive the engine in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final engine state.
	Assertions []Assertion `yaml:"assertions"`
}

// GateSpec configures the engine gates.
type GateSpec struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	AllowedSources []string `yaml:"allowed_sources"`
}

// enabled reports the effective enabled flag.
func (g *GateSpec) enabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Message  *MessageStep `yaml:"message,omitempty"`
	Remove   string       `yaml:"remove,omitempty"`
	Advance  string       `yaml:"advance,omitempty"`
	FailNext int          `yaml:"fail_next,omitempty"`
	Reset    bool         `yaml:"reset,omitempty"`
	SetRules *[]rule.Rule `yaml:"set_rules,omitempty"`
	Gates    *GateSpec    `yaml:"gates,omitempty"`
}

// kinds lists the step kinds that are set.
func (s Step) kinds() []string {
	var out []string
	if s.Message != nil {
		out = append(out, EventMessage)
	}
	if s.Remove != "" {
		out = append(out, EventRemove)
	}
	if s.Advance != "" {
		out = append(out, EventAdvance)
	}
	if s.FailNext != 0 {
		out = append(out, EventFailNext)
	}
	if s.Reset {
		out = append(out, EventReset)
	}
	if s.SetRules != nil {
		out = append(out, EventSetRules)
	}
	if s.Gates != nil {
		out = append(out, EventGates)
	}
	return out
}

// MessageStep is an inbound delivery.
type MessageStep struct {
	SourceID string `yaml:"source_id"`
	Origin   string `yaml:"origin,omitempty"`
	Text     string `yaml:"text"`

	// ReplyTo overrides the default reply handle "reply/<source_id>".
	ReplyTo string `yaml:"reply_to,omitempty"`

	// NoReplyHandle delivers the message without any reply handle.
	NoReplyHandle bool `yaml:"no_reply_handle,omitempty"`
}

func (m MessageStep) origin() string {
	if m.Origin == "" {
		return DefaultOrigin
	}
	return m.Origin
}

func (m MessageStep) replyHandle() string {
	switch {
	case m.NoReplyHandle:
		return ""
	case m.ReplyTo != "":
		return m.ReplyTo
	default:
		return "reply/" + m.SourceID
	}
}

// Assertion validates the trace or the final engine state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number (sent_count, error_count, pending_count).
	Count int `yaml:"count,omitempty"`

	// ReplyTo and Text select a delivered reply (sent). Empty fields match
	// anything.
	ReplyTo string `yaml:"reply_to,omitempty"`
	Text    string `yaml:"text,omitempty"`

	// Step is the zero-based step index (outcome).
	Step int `yaml:"step,omitempty"`

	// Outcome is the expected engine outcome (outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// SourceID and Phase select a final reply phase (phase).
	SourceID string `yaml:"source_id,omitempty"`
	Phase    string `yaml:"phase,omitempty"`

	// Code is the runtime error code (error_count).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertSentCount    = "sent_count"
	AssertSent         = "sent"
	AssertOutcome      = "outcome"
	AssertPhase        = "phase"
	AssertErrorCount   = "error_count"
	AssertPendingCount = "pending_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarioDir loads every .yaml and .yml scenario in dir, sorted by
// file name.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateRules("rules", s.Rules); err != nil {
		return err
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Steps)); err != nil {
			return err
		}
	}

	return nil
}

// validateRules checks rule IDs only. Patterns are not compiled.
func validateRules(field string, rules []rule.Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("%s[%d]: id is required", field, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("%s[%d]: duplicate id %q", field, i, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

func validateStep(index int, step Step) error {
	kinds := step.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("steps[%d]: no action set", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: exactly one action allowed, got %v", index, kinds)
	}

	switch {
	case step.Message != nil:
		if step.Message.SourceID == "" {
			return fmt.Errorf("steps[%d]: message source_id is required", index)
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not be negative", index)
		}
	case step.FailNext != 0:
		if step.FailNext < 0 {
			return fmt.Errorf("steps[%d]: fail_next must be positive", index)
		}
	case step.SetRules != nil:
		return validateRules(fmt.Sprintf("steps[%d].set_rules", index), *step.SetRules)
	}
	return nil
}

func validateAssertion(index int, a *Assertion, steps int) error {
	switch a.Type {
	case AssertSentCount, AssertPendingCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: %s count must be non-negative", index, a.Type)
		}
	case AssertSent:
		if a.ReplyTo == "" && a.Text == "" {
			return fmt.Errorf("assertions[%d]: sent requires reply_to or text", index)
		}
	case AssertOutcome:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required", index)
		}
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	case AssertPhase:
		if a.SourceID == "" || a.Phase == "" {
			return fmt.Errorf("assertions[%d]: phase requires source_id and phase", index)
		}
	case AssertErrorCount:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: error_count requires code", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: error_count count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
