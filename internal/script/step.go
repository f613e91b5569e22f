// Package script defines automation steps and turns a raw step list into a
// validated program with typed parameters and a loop-pairing index.
package script

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// StepType is the kind of a script step.
type StepType string

const (
	StepTap               StepType = "tap"
	StepSwipe             StepType = "swipe"
	StepInput             StepType = "input"
	StepWait              StepType = "wait"
	StepSmartTap          StepType = "smart_tap"
	StepSmartFindElement  StepType = "smart_find_element"
	StepRecognizePage     StepType = "recognize_page"
	StepVerifyAction      StepType = "verify_action"
	StepLoopStart         StepType = "loop_start"
	StepLoopEnd           StepType = "loop_end"
	StepConditionalAction StepType = "conditional_action"
	StepWaitForPageState  StepType = "wait_for_page_state"
	StepExtractElement    StepType = "extract_element"
	StepSmartNavigation   StepType = "smart_navigation"
	StepCompleteWorkflow  StepType = "complete_workflow"
)

// StepTypes lists every supported step type.
var StepTypes = []StepType{
	StepTap, StepSwipe, StepInput, StepWait, StepSmartTap, StepSmartFindElement,
	StepRecognizePage, StepVerifyAction, StepLoopStart, StepLoopEnd,
	StepConditionalAction, StepWaitForPageState, StepExtractElement,
	StepSmartNavigation, StepCompleteWorkflow,
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	for _, s := range StepTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Simple reports whether t may be used as a fallback action.
func (t StepType) Simple() bool {
	switch t {
	case StepTap, StepSwipe, StepInput, StepWait, StepSmartTap:
		return true
	}
	return false
}

// Step is one instruction in an automation script, as written by the user.
type Step struct {
	ID           string         `yaml:"id"                       json:"id"`
	Name         string         `yaml:"name,omitempty"           json:"name,omitempty"`
	Type         StepType       `yaml:"type"                     json:"type"`
	Order        int            `yaml:"order,omitempty"          json:"order,omitempty"`
	Enabled      *bool          `yaml:"enabled,omitempty"        json:"enabled,omitempty"`
	ParentLoopID string         `yaml:"parent_loop_id,omitempty" json:"parent_loop_id,omitempty"`
	Parameters   map[string]any `yaml:"parameters,omitempty"     json:"parameters,omitempty"`
}

// IsEnabled returns true unless the step is explicitly disabled.
func (s Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Label is the step name, or its id when unnamed.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// UnmarshalYAML accepts step_type as an alias for type and normalizes the
// type name.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	type plain Step
	var raw struct {
		plain    `yaml:",inline"`
		StepType StepType `yaml:"step_type"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Step(raw.plain)
	if s.Type == "" {
		s.Type = raw.StepType
	}
	s.Type = StepType(strings.ToLower(strings.TrimSpace(string(s.Type))))
	return nil
}
