package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mj1618/smartscript/internal/model"
)

// Params is the typed parameter set of one step kind.
type Params interface {
	isParams()
}

// TapParams taps a fixed coordinate. A positive Duration makes it a long press.
type TapParams struct {
	X, Y     int
	Duration time.Duration
}

// SwipeParams swipes between two points, or in a direction relative to the
// screen when Direction is set.
type SwipeParams struct {
	StartX, StartY int
	EndX, EndY     int
	Duration       time.Duration
	Direction      string  // up, down, left, right
	Distance       float64 // fraction of the screen, direction swipes only
}

// InputParams types text, optionally focusing Target first.
type InputParams struct {
	Text        string
	ClearBefore bool
	PressEnter  bool
	Target      *model.FindCondition
}

// WaitParams sleeps for a fixed duration.
type WaitParams struct {
	Duration time.Duration
}

// FindParams drives smart_tap, smart_find_element and extract_element.
type FindParams struct {
	Find         model.FindCondition
	ClickIfFound bool
	SaveTo       string
	Fields       []string
}

// RecognizeParams classifies the current page. A non-empty Expected makes
// the step wait until the page reaches that state.
type RecognizeParams struct {
	Expected model.PageState
	Timeout  time.Duration
	Interval time.Duration
}

// VerifyParams polls Spec until it passes.
type VerifyParams struct {
	Spec VerificationSpec
}

// LoopStartParams opens a loop region.
type LoopStartParams struct {
	LoopID        string
	Name          string
	Count         int
	Infinite      bool
	MaxIterations int
	Delay         time.Duration
	Break         BreakCondition
}

// LoopEndParams closes a loop region. LoopID is optional.
type LoopEndParams struct {
	LoopID string
}

// ConditionalParams jumps to Then or Else depending on Condition.
type ConditionalParams struct {
	Condition Condition
	Then      string
	Else      string
}

// WaitForPageParams waits until the page reaches State.
type WaitForPageParams struct {
	State    model.PageState
	Timeout  time.Duration
	Interval time.Duration
}

// NavigationParams taps a named navigation button.
type NavigationParams struct {
	NavType     string // bottom, top, side, floating
	Button      string
	App         string
	ClickAction string // single_tap, double_tap, long_press
}

// CompleteParams ends the workflow.
type CompleteParams struct {
	WorkflowType string
}

func (TapParams) isParams()         {}
func (SwipeParams) isParams()       {}
func (InputParams) isParams()       {}
func (WaitParams) isParams()        {}
func (FindParams) isParams()        {}
func (RecognizeParams) isParams()   {}
func (VerifyParams) isParams()      {}
func (LoopStartParams) isParams()   {}
func (LoopEndParams) isParams()     {}
func (ConditionalParams) isParams() {}
func (WaitForPageParams) isParams() {}
func (NavigationParams) isParams()  {}
func (CompleteParams) isParams()    {}

// DefaultExtractFields are recorded by extract_element when none are named.
var DefaultExtractFields = []string{"text", "bounds", "clickable"}

var extractFields = map[string]bool{
	"text": true, "bounds": true, "clickable": true, "resource_id": true,
	"description": true, "class": true, "center": true, "enabled": true,
	"selected": true, "ref": true,
}

// paramReader decodes an open parameter map, remembering which keys were
// consumed and which values were malformed.
type paramReader struct {
	raw  map[string]any
	used map[string]bool
	errs []string
}

func newParamReader(raw map[string]any) *paramReader {
	if raw == nil {
		raw = map[string]any{}
	}
	return &paramReader{raw: raw, used: map[string]bool{}}
}

func (r *paramReader) failf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func (r *paramReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(r.errs, "; "))
}

// lookup returns the value of the first present key.
func (r *paramReader) lookup(keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := r.raw[k]; ok && v != nil {
			r.used[k] = true
			return k, v, true
		}
	}
	for _, k := range keys {
		if _, ok := r.raw[k]; ok {
			r.used[k] = true
		}
	}
	return "", nil, false
}

func (r *paramReader) has(keys ...string) bool {
	for _, k := range keys {
		if v, ok := r.raw[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func (r *paramReader) str(def string, keys ...string) string {
	_, v, ok := r.lookup(keys...)
	if !ok {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case map[string]any, []any:
		r.failf("%s must be a string", keys[0])
		return def
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (r *paramReader) integer(def int, keys ...string) int {
	k, v, ok := r.lookup(keys...)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		if n != math.Trunc(n) {
			r.failf("%s must be a whole number, got %v", k, n)
			return def
		}
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			r.failf("%s must be a number, got %q", k, n)
			return def
		}
		return i
	}
	r.failf("%s must be a number", k)
	return def
}

func (r *paramReader) float(def float64, keys ...string) float64 {
	k, v, ok := r.lookup(keys...)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			r.failf("%s must be a number, got %q", k, n)
			return def
		}
		return f
	}
	r.failf("%s must be a number", k)
	return def
}

func (r *paramReader) boolean(def bool, keys ...string) bool {
	k, v, ok := r.lookup(keys...)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		pb, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			r.failf("%s must be true or false, got %q", k, b)
			return def
		}
		return pb
	}
	r.failf("%s must be true or false", k)
	return def
}

// millis reads a millisecond count as a duration.
func (r *paramReader) millis(def time.Duration, keys ...string) time.Duration {
	if !r.has(keys...) {
		r.lookup(keys...)
		return def
	}
	ms := r.integer(0, keys...)
	if ms < 0 {
		r.failf("%s must not be negative", keys[0])
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// stringList reads a list of strings, accepting a comma-separated string too.
func (r *paramReader) stringList(keys ...string) []string {
	k, v, ok := r.lookup(keys...)
	if !ok {
		return nil
	}
	var out []string
	switch l := v.(type) {
	case string:
		for _, p := range strings.Split(l, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				r.failf("%s must be a list of strings", k)
				return nil
			}
			out = append(out, s)
		}
	case []string:
		out = append(out, l...)
	default:
		r.failf("%s must be a list of strings", k)
	}
	return out
}

// sub returns a nested map parameter.
func (r *paramReader) sub(key string) (map[string]any, bool) {
	_, v, ok := r.lookup(key)
	if !ok {
		return nil, false
	}
	m, ok := toStringMap(v)
	if !ok {
		r.failf("%s must be a map", key)
		return nil, false
	}
	return m, true
}

// list returns a list parameter.
func (r *paramReader) list(key string) []any {
	_, v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		r.failf("%s must be a list", key)
		return nil
	}
	return l
}

// residual returns the keys no decoder consumed.
func (r *paramReader) residual() map[string]any {
	var out map[string]any
	for k, v := range r.raw {
		if r.used[k] {
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[k] = v
	}
	return out
}

// unusedKeys is residual's keys in sorted order.
func (r *paramReader) unusedKeys() []string {
	var keys []string
	for k := range r.residual() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toStringMap normalizes map[string]any and map[any]any values.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// decodeParams builds the typed parameters for kind.
func decodeParams(kind StepType, stepID string, r *paramReader) Params {
	switch kind {
	case StepTap:
		if !r.has("x") || !r.has("y") {
			r.failf("x and y are required")
		}
		p := TapParams{X: r.integer(0, "x"), Y: r.integer(0, "y"), Duration: r.millis(0, "duration_ms", "duration")}
		if p.X < 0 || p.Y < 0 {
			r.failf("coordinates must not be negative")
		}
		return p
	case StepSwipe:
		return decodeSwipe(r)
	case StepInput:
		return decodeInput(r)
	case StepWait:
		d := r.millis(0, "duration_ms", "duration", "wait_ms")
		if d <= 0 {
			r.failf("duration_ms must be positive")
		}
		return WaitParams{Duration: d}
	case StepSmartTap, StepSmartFindElement, StepExtractElement:
		p := FindParams{Find: decodeFind(r)}
		p.ClickIfFound = r.boolean(false, "click_if_found")
		p.SaveTo = r.str("", "save_to_variable", "save_as", "key")
		p.Fields = r.stringList("extract_fields")
		if kind == StepExtractElement {
			if p.SaveTo == "" {
				r.failf("save_to_variable is required")
			}
			if len(p.Fields) == 0 {
				p.Fields = DefaultExtractFields
			}
		}
		for _, f := range p.Fields {
			if !extractFields[f] {
				r.failf("unknown extract field %q", f)
			}
		}
		if kind == StepSmartTap {
			p.ClickIfFound = true
		}
		return p
	case StepRecognizePage:
		p := RecognizeParams{
			Timeout:  r.millis(0, "timeout_ms"),
			Interval: r.millis(0, "check_interval_ms"),
		}
		if s := r.str("", "expected_state"); s != "" {
			state, err := model.ParsePageState(s)
			if err != nil {
				r.failf("%v", err)
			}
			p.Expected = state
		}
		return p
	case StepVerifyAction:
		spec, ok := decodeVerification(r, "verify_type", "expected_result")
		if !ok && len(r.errs) == 0 {
			r.failf("verify_type is required")
		}
		if f, ok := r.sub("find"); ok {
			fr := newParamReader(f)
			fc := decodeFind(fr)
			r.errs = append(r.errs, fr.errs...)
			spec.Find = &fc
		}
		checkElementTarget(r, spec)
		return VerifyParams{Spec: spec}
	case StepLoopStart:
		return decodeLoopStart(stepID, r)
	case StepLoopEnd:
		return LoopEndParams{LoopID: r.str("", "loop_id")}
	case StepConditionalAction:
		return decodeConditional(r)
	case StepWaitForPageState:
		p := WaitForPageParams{
			Timeout:  r.millis(10*time.Second, "timeout_ms"),
			Interval: r.millis(time.Second, "check_interval_ms"),
		}
		s := r.str("", "expected_state", "state")
		if s == "" {
			r.failf("expected_state is required")
			return p
		}
		state, err := model.ParsePageState(s)
		if err != nil {
			r.failf("%v", err)
		}
		p.State = state
		return p
	case StepSmartNavigation:
		p := NavigationParams{
			NavType:     strings.ToLower(r.str("bottom", "navigation_type")),
			Button:      r.str("", "button_name", "target"),
			App:         r.str("", "app_name"),
			ClickAction: strings.ToLower(r.str("single_tap", "click_action")),
		}
		if p.Button == "" {
			r.failf("button_name is required")
		}
		switch p.NavType {
		case "bottom", "top", "side", "floating":
		default:
			r.failf("unknown navigation_type %q", p.NavType)
		}
		switch p.ClickAction {
		case "single_tap", "double_tap", "long_press":
		default:
			r.failf("unknown click_action %q", p.ClickAction)
		}
		return p
	case StepCompleteWorkflow:
		return CompleteParams{WorkflowType: r.str("", "workflow_type")}
	}
	return nil
}

func decodeSwipe(r *paramReader) SwipeParams {
	p := SwipeParams{Duration: r.millis(300*time.Millisecond, "duration", "duration_ms")}
	if r.has("direction") {
		p.Direction = strings.ToLower(r.str("", "direction"))
		switch p.Direction {
		case "up", "down", "left", "right":
		default:
			r.failf("unknown direction %q (expected up, down, left or right)", p.Direction)
		}
		p.Distance = r.float(0.5, "distance")
		if p.Distance <= 0 || p.Distance > 1 {
			r.failf("distance must be within (0, 1]")
		}
		return p
	}
	for _, k := range []string{"start_x", "start_y", "end_x", "end_y"} {
		if !r.has(k) {
			r.failf("start_x, start_y, end_x and end_y (or direction) are required")
			break
		}
	}
	p.StartX = r.integer(0, "start_x")
	p.StartY = r.integer(0, "start_y")
	p.EndX = r.integer(0, "end_x")
	p.EndY = r.integer(0, "end_y")
	return p
}

func decodeInput(r *paramReader) InputParams {
	p := InputParams{
		Text:        r.str("", "text", "input_text"),
		ClearBefore: r.boolean(false, "clear_before", "clear_first"),
		PressEnter:  r.boolean(false, "press_enter"),
	}
	if !r.has("text", "input_text") {
		r.failf("text is required")
	}
	if _, v, ok := r.lookup("target"); ok {
		switch t := v.(type) {
		case string:
			p.Target = &model.FindCondition{Method: model.MatchContains, Value: t}
		default:
			m, ok := toStringMap(t)
			if !ok {
				r.failf("target must be a string or a find condition")
				break
			}
			tr := newParamReader(m)
			fc := decodeFind(tr)
			r.errs = append(r.errs, tr.errs...)
			p.Target = &fc
		}
	}
	return p
}

// decodeFind reads FindCondition keys.
func decodeFind(r *paramReader) model.FindCondition {
	var c model.FindCondition
	method, err := model.ParseMatchMethod(r.str("", "match_method", "method", "find_method"))
	if err != nil {
		r.failf("%v", err)
	}
	c.Method = method
	c.Value = r.str("", "target", "search_criteria", "text", "value")
	if c.Value == "" {
		r.failf("target is required")
	}
	c.ClickableOnly = r.boolean(false, "clickable_only")
	c.Roles = r.stringList("element_type", "roles")
	c.MinConfidence = r.float(0, "confidence_threshold", "min_confidence")
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		r.failf("confidence_threshold must be within [0, 1]")
	}
	if k, v, ok := r.lookup("bounds_filter", "bounds"); ok {
		switch b := v.(type) {
		case string:
			bounds, err := model.ParseBounds(b)
			if err != nil {
				r.failf("%s: %v", k, err)
			} else {
				c.Bounds = &bounds
			}
		case []any:
			if len(b) != 4 {
				r.failf("%s must have four values", k)
				break
			}
			parts := make([]string, len(b))
			for i, n := range b {
				parts[i] = fmt.Sprint(n)
			}
			bounds, err := model.ParseBounds(strings.Join(parts, ","))
			if err != nil {
				r.failf("%s: %v", k, err)
			} else {
				c.Bounds = &bounds
			}
		default:
			r.failf("%s must be \"x,y,w,h\" or a list", k)
		}
	}
	return c
}

// decodeVerification reads a VerificationSpec using kindKey/targetKey plus
// the shared timeout keys. ok is false when no kind is present.
func decodeVerification(r *paramReader, kindKey, targetKey string) (VerificationSpec, bool) {
	spec := VerificationSpec{
		Target:   r.str("", targetKey, "target"),
		Timeout:  r.millis(5*time.Second, "timeout_ms"),
		Interval: r.millis(0, "check_interval_ms", "interval_ms"),
	}
	name := r.str("", kindKey, "kind", "type")
	if name == "" {
		return spec, false
	}
	kind, err := ParseVerifyKind(name)
	if err != nil {
		r.failf("%v", err)
		return spec, false
	}
	spec.Kind = kind
	if kind == VerifyPageStateChange && spec.Target != "" {
		state, err := model.ParsePageState(spec.Target)
		if err != nil {
			r.failf("%v", err)
		} else {
			spec.Target = string(state)
		}
	}
	return spec, true
}

// checkElementTarget requires element checks to name what they look for.
func checkElementTarget(r *paramReader, spec VerificationSpec) {
	if (spec.Kind == VerifyElementExists || spec.Kind == VerifyElementDisappears) && spec.Target == "" && spec.Find == nil {
		r.failf("%s needs a target or a find block", spec.Kind)
	}
}

func decodeLoopStart(stepID string, r *paramReader) LoopStartParams {
	p := LoopStartParams{
		LoopID:        r.str(stepID, "loop_id"),
		Name:          r.str("", "loop_name"),
		Count:         r.integer(1, "loop_count", "iterations"),
		Infinite:      r.boolean(false, "is_infinite_loop", "infinite"),
		MaxIterations: r.integer(0, "max_iterations"),
		Delay:         r.millis(0, "delay_between_loops"),
		Break:         BreakCondition{Kind: BreakNone},
	}
	if p.Count == -1 {
		p.Infinite = true
		p.Count = 0
	}
	if p.Count < 0 {
		r.failf("loop_count must be -1 or at least 0")
	}
	if p.MaxIterations < 0 {
		r.failf("max_iterations must not be negative")
	}
	if b := strings.ToLower(r.str("", "break_condition")); b != "" {
		p.Break.Kind = BreakKind(b)
		p.Break.Value = r.str("", "break_condition_value")
		switch p.Break.Kind {
		case BreakNone, BreakPageChange:
		case BreakElementFound, BreakElementNotFound:
			if p.Break.Value == "" {
				r.failf("break_condition %s needs break_condition_value", b)
			}
		default:
			r.failf("unknown break_condition %q", b)
		}
	}
	return p
}

func decodeConditional(r *paramReader) ConditionalParams {
	p := ConditionalParams{
		Then: r.str("", "then_step", "then"),
		Else: r.str("", "else_step", "else"),
	}
	if p.Then == "" || p.Else == "" {
		r.failf("then_step and else_step are required")
	}
	m, ok := r.sub("condition")
	if !ok {
		if len(r.errs) == 0 {
			r.failf("condition is required")
		}
		return p
	}
	cr := newParamReader(m)
	c := Condition{
		Kind:   ConditionKind(strings.ToLower(cr.str("", "kind", "type"))),
		Key:    cr.str("", "key", "variable"),
		Value:  cr.str("", "value", "equals"),
		Negate: cr.boolean(false, "negate", "not"),
	}
	switch c.Kind {
	case CondPageState:
		state, err := model.ParsePageState(cr.str("", "state", "page_state"))
		if err != nil {
			cr.failf("%v", err)
		}
		c.State = state
	case CondExtractedExists, CondExtractedMissing, CondExtractedEquals:
		if c.Key == "" {
			cr.failf("condition %s needs a key", c.Kind)
		}
	default:
		cr.failf("unknown condition kind %q", c.Kind)
	}
	r.errs = append(r.errs, cr.errs...)
	p.Condition = c
	return p
}
