package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/mj1618/smartscript/internal/model"
)

// RetryPolicy bounds how often and how long a step is attempted.
// A negative MaxRetries and zero durations mean "use the run default".
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries"       json:"max_retries"`
	Interval   time.Duration `yaml:"interval"          json:"interval"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Attempts is the total number of tries, the first one included.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// WithDefaults fills unset fields from def.
func (p RetryPolicy) WithDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

// VerifyKind selects what a verification checks.
type VerifyKind string

const (
	VerifyTextChange        VerifyKind = "text_change"
	VerifyPageStateChange   VerifyKind = "page_state_change"
	VerifyElementExists     VerifyKind = "element_exists"
	VerifyElementDisappears VerifyKind = "element_disappears"
)

// ParseVerifyKind converts a verification type name, accepting common aliases.
func ParseVerifyKind(s string) (VerifyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text_change", "text_changed", "text":
		return VerifyTextChange, nil
	case "page_state_change", "page_change", "page_state", "page":
		return VerifyPageStateChange, nil
	case "element_exists", "element_appears", "exists":
		return VerifyElementExists, nil
	case "element_disappears", "element_gone", "disappears":
		return VerifyElementDisappears, nil
	default:
		return "", fmt.Errorf("unknown verify type %q (expected text_change, page_state_change, element_exists or element_disappears)", s)
	}
}

// VerificationSpec is a poll-until check confirming an action's effect.
type VerificationSpec struct {
	Kind     VerifyKind           `yaml:"kind"             json:"kind"`
	Target   string               `yaml:"target,omitempty" json:"target,omitempty"`
	Timeout  time.Duration        `yaml:"timeout"          json:"timeout"`
	Interval time.Duration        `yaml:"interval"         json:"interval"`
	Find     *model.FindCondition `yaml:"find,omitempty"   json:"find,omitempty"`
}

func (v VerificationSpec) String() string {
	if v.Target == "" {
		return string(v.Kind)
	}
	return fmt.Sprintf("%s %q", v.Kind, v.Target)
}

// ConditionKind selects what a conditional_action tests.
type ConditionKind string

const (
	CondPageState        ConditionKind = "page_state"
	CondExtractedExists  ConditionKind = "extracted_exists"
	CondExtractedMissing ConditionKind = "extracted_missing"
	CondExtractedEquals  ConditionKind = "extracted_equals"
)

// Condition is a boolean test over the execution context.
type Condition struct {
	Kind   ConditionKind   `yaml:"kind"             json:"kind"`
	State  model.PageState `yaml:"state,omitempty"  json:"state,omitempty"`
	Key    string          `yaml:"key,omitempty"    json:"key,omitempty"`
	Value  string          `yaml:"value,omitempty"  json:"value,omitempty"`
	Negate bool            `yaml:"negate,omitempty" json:"negate,omitempty"`
}

func (c Condition) String() string {
	var s string
	switch c.Kind {
	case CondPageState:
		s = "page is " + string(c.State)
	case CondExtractedEquals:
		s = fmt.Sprintf("%s == %q", c.Key, c.Value)
	case CondExtractedMissing:
		s = c.Key + " missing"
	default:
		s = c.Key + " exists"
	}
	if c.Negate {
		return "not " + s
	}
	return s
}

// BreakKind is the early-exit test a loop evaluates before re-entry.
type BreakKind string

const (
	BreakNone            BreakKind = "none"
	BreakPageChange      BreakKind = "page_change"
	BreakElementFound    BreakKind = "element_found"
	BreakElementNotFound BreakKind = "element_not_found"
)

// BreakCondition ends a loop before its iteration target.
type BreakCondition struct {
	Kind  BreakKind `yaml:"kind"            json:"kind"`
	Value string    `yaml:"value,omitempty" json:"value,omitempty"`
}
