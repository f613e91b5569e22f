package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ParseReason classifies why a step list was rejected.
type ParseReason string

const (
	ReasonUnknownType        ParseReason = "unknown step type"
	ReasonMissingID          ParseReason = "missing step id"
	ReasonDuplicateID        ParseReason = "duplicate step id"
	ReasonInvalidParameter   ParseReason = "invalid parameter"
	ReasonUnmatchedLoopStart ParseReason = "unmatched loop_start"
	ReasonUnmatchedLoopEnd   ParseReason = "unmatched loop_end"
	ReasonCrossingLoop       ParseReason = "crossing loop region"
	ReasonUnknownTarget      ParseReason = "unknown branch target"
	ReasonBranchIntoLoop     ParseReason = "branch into loop"
	ReasonParentLoop         ParseReason = "parent loop mismatch"
	ReasonEmptyScript        ParseReason = "empty script"
)

// ParseError names the step that made a step list invalid.
type ParseError struct {
	StepID string      `yaml:"step_id"          json:"step_id"`
	Reason ParseReason `yaml:"reason"           json:"reason"`
	Detail string      `yaml:"detail,omitempty" json:"detail,omitempty"`
}

func newParseError(stepID string, reason ParseReason, detail string) *ParseError {
	return &ParseError{StepID: stepID, Reason: reason, Detail: detail}
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.StepID != "" {
		fmt.Fprintf(&b, "step %q: ", e.StepID)
	}
	b.WriteString(string(e.Reason))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// IsParseError reports whether err is, or wraps, a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Instruction is a validated step with its typed parameters.
type Instruction struct {
	Step      Step
	Params    Params
	Residual  map[string]any
	Retry     RetryPolicy
	Verify    *VerificationSpec
	Fallbacks []Instruction
}

// ID is the id of the underlying step.
func (in Instruction) ID() string { return in.Step.ID }

// Type is the kind of the underlying step.
func (in Instruction) Type() StepType { return in.Step.Type }

// Program is a parsed, executable step list.
type Program struct {
	Name         string
	Instructions []Instruction
	Disabled     []Step
	Loops        LoopIndex
	// Total counts every input step, disabled ones included.
	Total int

	positions map[string]int
}

// Position returns the program position of the step with the given id.
func (p *Program) Position(id string) (int, bool) {
	pos, ok := p.positions[id]
	return pos, ok
}

// Len is the number of enabled instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// Report is the outcome of a non-fatal preprocessing pass.
type Report struct {
	Valid     bool          `yaml:"valid"            json:"valid"`
	Steps     int           `yaml:"steps"            json:"steps"`
	Enabled   int           `yaml:"enabled"          json:"enabled"`
	LoopCount int           `yaml:"loop_count"       json:"loop_count"`
	MaxDepth  int           `yaml:"max_depth"        json:"max_depth"`
	Loops     []LoopEntry   `yaml:"loops,omitempty"  json:"loops,omitempty"`
	Issues    []*ParseError `yaml:"issues,omitempty" json:"issues,omitempty"`
	Warnings  []string      `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

// Parse validates steps and builds a program. The first problem found is
// returned as a *ParseError.
func Parse(steps []Step) (*Program, error) {
	prog, issues, _ := compile(steps)
	if len(issues) > 0 {
		return nil, issues[0]
	}
	return prog, nil
}

// Analyze runs every validation and reports all problems instead of
// stopping at the first.
func Analyze(steps []Step) Report {
	prog, issues, warnings := compile(steps)
	return Report{
		Valid:     len(issues) == 0,
		Steps:     len(steps),
		Enabled:   prog.Len(),
		LoopCount: prog.Loops.Len(),
		MaxDepth:  prog.Loops.MaxDepth(),
		Loops:     prog.Loops.Entries,
		Issues:    issues,
		Warnings:  warnings,
	}
}

// compile always returns a program, possibly partial, alongside every issue.
func compile(steps []Step) (*Program, []*ParseError, []string) {
	var (
		issues   []*ParseError
		warnings []string
	)
	prog := &Program{Total: len(steps), positions: map[string]int{}}
	if len(steps) == 0 {
		return prog, []*ParseError{newParseError("", ReasonEmptyScript, "no steps")}, nil
	}

	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	seen := map[string]bool{}
	var enabled []Step
	for i, st := range ordered {
		switch {
		case strings.TrimSpace(st.ID) == "":
			issues = append(issues, newParseError(fmt.Sprintf("#%d", i+1), ReasonMissingID, "every step needs an id"))
			continue
		case seen[st.ID]:
			issues = append(issues, newParseError(st.ID, ReasonDuplicateID, ""))
			continue
		}
		seen[st.ID] = true
		if !st.Type.Valid() {
			issues = append(issues, newParseError(st.ID, ReasonUnknownType, fmt.Sprintf("%q", st.Type)))
			continue
		}
		if !st.IsEnabled() {
			prog.Disabled = append(prog.Disabled, st)
			continue
		}
		enabled = append(enabled, st)
	}

	params := make([]Params, len(enabled))
	for pos, st := range enabled {
		in, errs, warns := compileStep(st, true)
		issues = append(issues, errs...)
		warnings = append(warnings, warns...)
		params[pos] = in.Params
		prog.positions[st.ID] = pos
		prog.Instructions = append(prog.Instructions, in)
	}

	loops, loopIssues := buildLoopIndex(enabled, params)
	prog.Loops = loops
	issues = append(issues, loopIssues...)

	for pos, in := range prog.Instructions {
		if in.Step.ParentLoopID != "" && !enclosedBy(prog, pos, in.Step.ParentLoopID) {
			issues = append(issues, newParseError(in.ID(), ReasonParentLoop,
				fmt.Sprintf("step is not inside loop %q", in.Step.ParentLoopID)))
		}
		cp, ok := in.Params.(ConditionalParams)
		if !ok {
			continue
		}
		for _, target := range []string{cp.Then, cp.Else} {
			if target == "" {
				continue
			}
			tpos, ok := prog.positions[target]
			if !ok {
				detail := fmt.Sprintf("no step %q", target)
				if isDisabled(prog, target) {
					detail = fmt.Sprintf("step %q is disabled", target)
				}
				issues = append(issues, newParseError(in.ID(), ReasonUnknownTarget, detail))
				continue
			}
			for _, e := range prog.Loops.Enclosing(tpos) {
				if !e.Contains(pos) {
					issues = append(issues, newParseError(in.ID(), ReasonBranchIntoLoop,
						fmt.Sprintf("%q is inside loop %q", target, e.LoopID)))
					break
				}
			}
		}
	}
	return prog, issues, warnings
}

func enclosedBy(prog *Program, pos int, loopID string) bool {
	for _, e := range prog.Loops.Enclosing(pos) {
		if e.LoopID == loopID || prog.Instructions[e.Start].ID() == loopID {
			return true
		}
	}
	return false
}

func isDisabled(prog *Program, id string) bool {
	for _, st := range prog.Disabled {
		if st.ID == id {
			return true
		}
	}
	return false
}

// compileStep decodes one step. Fallback actions are compiled recursively
// when allowFallbacks is set.
func compileStep(st Step, allowFallbacks bool) (Instruction, []*ParseError, []string) {
	var (
		issues   []*ParseError
		warnings []string
	)
	r := newParamReader(st.Parameters)
	in := Instruction{Step: st}
	in.Params = decodeParams(st.Type, st.ID, r)

	in.Retry = RetryPolicy{
		MaxRetries: r.integer(-1, "retry_count", "max_retries"),
		Interval:   r.millis(0, "retry_interval_ms"),
		Timeout:    r.millis(0, "step_timeout_ms"),
	}
	switch st.Type {
	case StepVerifyAction, StepRecognizePage, StepWaitForPageState:
	default:
		if in.Retry.Timeout == 0 {
			in.Retry.Timeout = r.millis(0, "timeout_ms")
		}
	}
	if in.Retry.MaxRetries < -1 {
		r.failf("retry_count must not be negative")
	}

	if vm, ok := r.sub("verify"); ok {
		vr := newParamReader(vm)
		spec, ok := decodeVerification(vr, "type", "expected_result")
		if !ok && len(vr.errs) == 0 {
			vr.failf("verify needs a type")
		}
		if fm, ok := vr.sub("find"); ok {
			fr := newParamReader(fm)
			fc := decodeFind(fr)
			vr.errs = append(vr.errs, fr.errs...)
			spec.Find = &fc
		}
		checkElementTarget(vr, spec)
		for _, e := range vr.errs {
			r.failf("verify: %s", e)
		}
		if ok {
			in.Verify = &spec
		}
	}

	if list := r.list("fallback_actions"); list != nil {
		if !allowFallbacks {
			r.failf("fallback actions cannot have fallback actions")
		}
		for i, item := range list {
			fb, err := decodeFallback(st.ID, i, item)
			if err != nil {
				r.failf("fallback_actions[%d]: %v", i, err)
				continue
			}
			fin, errs, _ := compileStep(fb, false)
			for _, e := range errs {
				r.failf("fallback_actions[%d]: %s", i, e.Detail)
			}
			in.Fallbacks = append(in.Fallbacks, fin)
		}
	}

	// Free-form notes are not parameters.
	r.lookup("description", "note")

	in.Residual = r.residual()
	if len(in.Residual) > 0 {
		warnings = append(warnings, fmt.Sprintf("step %q: unused parameters: %s", st.ID, strings.Join(r.unusedKeys(), ", ")))
	}
	if err := r.err(); err != nil {
		issues = append(issues, newParseError(st.ID, ReasonInvalidParameter, err.Error()))
	}
	return in, issues, warnings
}

// decodeFallback turns one fallback_actions entry into a step. Entries are
// either full steps or {type: ..., parameters: ...} maps without an id.
func decodeFallback(parentID string, i int, item any) (Step, error) {
	m, ok := toStringMap(item)
	if !ok {
		return Step{}, fmt.Errorf("must be a map")
	}
	r := newParamReader(m)
	st := Step{
		ID:   r.str(fmt.Sprintf("%s.fallback.%d", parentID, i+1), "id"),
		Name: r.str("", "name"),
		Type: StepType(strings.ToLower(r.str("", "type", "step_type"))),
	}
	if p, ok := r.sub("parameters"); ok {
		st.Parameters = p
	}
	if err := r.err(); err != nil {
		return Step{}, err
	}
	if !st.Type.Simple() {
		return Step{}, fmt.Errorf("type %q cannot be a fallback action (use tap, swipe, input, wait or smart_tap)", st.Type)
	}
	return st, nil
}
