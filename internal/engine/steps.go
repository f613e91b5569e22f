package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/platform"
	"github.com/mj1618/smartscript/internal/script"
)

// stepAction performs one attempt of a step and returns a log detail.
type stepAction func(ctx context.Context) (string, error)

const longPressDuration = 800 * time.Millisecond

// actionFor binds the handler of an action-like instruction.
func (r *runner) actionFor(in *script.Instruction) stepAction {
	switch p := in.Params.(type) {
	case script.TapParams:
		return func(ctx context.Context) (string, error) { return r.tap(ctx, p) }
	case script.SwipeParams:
		return func(ctx context.Context) (string, error) { return r.swipe(ctx, p) }
	case script.InputParams:
		return func(ctx context.Context) (string, error) { return r.input(ctx, p) }
	case script.WaitParams:
		return func(ctx context.Context) (string, error) {
			if err := sleep(ctx, p.Duration); err != nil {
				return "", err
			}
			return "waited " + p.Duration.String(), nil
		}
	case script.FindParams:
		return func(ctx context.Context) (string, error) { return r.smartFind(ctx, in, p) }
	case script.RecognizeParams:
		return func(ctx context.Context) (string, error) { return r.recognize(ctx, p) }
	case script.VerifyParams:
		return func(ctx context.Context) (string, error) {
			if err := r.verify(ctx, p.Spec); err != nil {
				return "", err
			}
			return "verified " + p.Spec.String(), nil
		}
	case script.WaitForPageParams:
		return func(ctx context.Context) (string, error) {
			if err := r.waitForPage(ctx, p.State, p.Timeout, p.Interval); err != nil {
				return "", err
			}
			return "page is " + string(p.State), nil
		}
	case script.NavigationParams:
		return func(ctx context.Context) (string, error) { return r.navigate(ctx, p) }
	}
	return func(context.Context) (string, error) {
		return "", fmt.Errorf("%w: no handler for %s", errInvalidStep, in.Type())
	}
}

// perform sends one action to the device.
func (r *runner) perform(ctx context.Context, a platform.Action) error {
	before := r.ec.Snapshot
	out, err := r.p.Device.Perform(ctx, a)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, a, err)
	}
	r.ec.actionPerformed(before)
	if r.cfg.DetailedLogging {
		r.logger.Debug("action", "action", a.String(), "commands", out.Commands, "elapsed", out.Elapsed)
	}
	return nil
}

// capture takes a fresh snapshot and refreshes the page state when an
// action has happened since it was last classified.
func (r *runner) capture(ctx context.Context) (*model.Snapshot, error) {
	snap, err := r.p.Device.CaptureSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	r.ec.setSnapshot(snap)
	if r.cfg.PageRecognitionEnabled && r.ec.pageStale {
		if _, err := r.classify(ctx, snap); err != nil {
			r.logger.Debug("page recognition failed", "error", err)
		}
	}
	return snap, nil
}

// classify recognizes snap and records the state.
func (r *runner) classify(ctx context.Context, snap *model.Snapshot) (model.PageState, error) {
	state, err := r.p.Recognizer.Classify(ctx, snap)
	if err != nil {
		return model.PageUnknown, fmt.Errorf("recognize page: %w", err)
	}
	r.ec.PageState = state
	r.ec.pageStale = false
	return state, nil
}

// findIn runs cond against snap. An empty result is ErrMatchNotFound.
func (r *runner) findIn(ctx context.Context, snap *model.Snapshot, cond model.FindCondition) ([]model.Match, error) {
	matches, err := r.p.Matcher.Find(ctx, snap, cond)
	if err != nil {
		return nil, fmt.Errorf("%w: find %s: %w", ErrActionFailed, cond, err)
	}
	r.ec.lastMatches = matches
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, cond)
	}
	return matches, nil
}

// find captures a snapshot and runs cond against it.
func (r *runner) find(ctx context.Context, cond model.FindCondition) ([]model.Match, error) {
	snap, err := r.capture(ctx)
	if err != nil {
		return nil, err
	}
	return r.findIn(ctx, snap, cond)
}

func describeMatch(matches []model.Match) string {
	top := matches[0]
	s := fmt.Sprintf("matched #%d %q (score %.2f)", top.Element.ID, top.Element.Label(), top.Score)
	if n := len(matches) - 1; n > 0 {
		s += fmt.Sprintf(", %d alternative(s)", n)
	}
	return s
}

func (r *runner) tap(ctx context.Context, p script.TapParams) (string, error) {
	a := platform.Action{Kind: platform.ActionTap, X: p.X, Y: p.Y}
	if p.Duration > 0 {
		a.Kind = platform.ActionLongPress
		a.Duration = p.Duration
	}
	if err := r.perform(ctx, a); err != nil {
		return "", err
	}
	return a.String(), nil
}

func (r *runner) swipe(ctx context.Context, p script.SwipeParams) (string, error) {
	if p.Direction != "" {
		snap := r.ec.Snapshot
		if snap == nil {
			var err error
			if snap, err = r.capture(ctx); err != nil {
				return "", err
			}
		}
		w, h := snap.ScreenSize()
		p.StartX, p.StartY, p.EndX, p.EndY = directionSwipe(p.Direction, p.Distance, w, h)
	}
	a := platform.Action{Kind: platform.ActionSwipe, X: p.StartX, Y: p.StartY, X2: p.EndX, Y2: p.EndY, Duration: p.Duration}
	if err := r.perform(ctx, a); err != nil {
		return "", err
	}
	return a.String(), nil
}

// directionSwipe centres a swipe of distance (a screen fraction) on the
// screen. "up" scrolls content up, so the finger moves from low to high.
func directionSwipe(direction string, distance float64, w, h int) (x1, y1, x2, y2 int) {
	cx, cy := w/2, h/2
	dx := int(float64(w) * distance / 2)
	dy := int(float64(h) * distance / 2)
	switch direction {
	case "up":
		return cx, cy + dy, cx, cy - dy
	case "down":
		return cx, cy - dy, cx, cy + dy
	case "left":
		return cx + dx, cy, cx - dx, cy
	default:
		return cx - dx, cy, cx + dx, cy
	}
}

func (r *runner) input(ctx context.Context, p script.InputParams) (string, error) {
	var parts []string
	if p.Target != nil {
		matches, err := r.find(ctx, *p.Target)
		if err != nil {
			return "", err
		}
		x, y := matches[0].Element.Center()
		if err := r.perform(ctx, platform.Action{Kind: platform.ActionTap, X: x, Y: y}); err != nil {
			return "", err
		}
		parts = append(parts, describeMatch(matches))
	}
	if p.ClearBefore {
		if err := r.perform(ctx, platform.Action{Kind: platform.ActionClearText}); err != nil {
			return "", err
		}
	}
	if err := r.perform(ctx, platform.Action{Kind: platform.ActionInputText, Text: p.Text}); err != nil {
		return "", err
	}
	parts = append(parts, fmt.Sprintf("typed %q", p.Text))
	if p.PressEnter {
		if err := r.perform(ctx, platform.Action{Kind: platform.ActionKeyEvent, Key: "enter"}); err != nil {
			return "", err
		}
	}
	return strings.Join(parts, "; "), nil
}

// smartFind serves smart_tap, smart_find_element and extract_element.
func (r *runner) smartFind(ctx context.Context, in *script.Instruction, p script.FindParams) (string, error) {
	matches, err := r.find(ctx, p.Find)
	if err != nil {
		return "", err
	}
	top := matches[0].Element
	detail := describeMatch(matches)
	if p.SaveTo != "" {
		fields := p.Fields
		if len(fields) == 0 {
			fields = script.DefaultExtractFields
		}
		r.ec.setExtracted(in.ID(), p.SaveTo, extractFields(top, fields))
		detail = joinDetail(detail, "saved to "+p.SaveTo)
	}
	if p.ClickIfFound {
		x, y := top.Center()
		if err := r.perform(ctx, platform.Action{Kind: platform.ActionTap, X: x, Y: y}); err != nil {
			return "", err
		}
		detail = joinDetail(detail, fmt.Sprintf("tapped (%d,%d)", x, y))
	}
	return detail, nil
}

// extractFields copies the named observed fields of el.
func extractFields(el model.Element, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case "text":
			out[f] = el.Text
		case "bounds":
			out[f] = []int{el.Bounds[0], el.Bounds[1], el.Bounds[2], el.Bounds[3]}
		case "clickable":
			out[f] = el.Clickable
		case "resource_id":
			out[f] = el.ResourceID
		case "description":
			out[f] = el.Description
		case "class":
			out[f] = el.Class
		case "center":
			x, y := el.Center()
			out[f] = []int{x, y}
		case "enabled":
			out[f] = el.IsEnabled()
		case "selected":
			out[f] = el.Selected
		case "ref":
			out[f] = el.Ref
		}
	}
	return out
}

// navBounds is the screen region a navigation bar of navType occupies.
func navBounds(navType string, w, h int) *[4]int {
	if w <= 0 || h <= 0 {
		return nil
	}
	switch navType {
	case "bottom":
		return &[4]int{0, h * 4 / 5, w, h - h*4/5}
	case "top":
		return &[4]int{0, 0, w, h / 5}
	case "side":
		return &[4]int{0, 0, w * 3 / 10, h}
	}
	return nil
}

func (r *runner) navigate(ctx context.Context, p script.NavigationParams) (string, error) {
	snap, err := r.capture(ctx)
	if err != nil {
		return "", err
	}
	w, h := snap.ScreenSize()
	cond := model.FindCondition{
		Method:        model.MatchContains,
		Value:         p.Button,
		ClickableOnly: true,
		Bounds:        navBounds(p.NavType, w, h),
	}
	matches, err := r.findIn(ctx, snap, cond)
	if err != nil {
		return "", err
	}
	x, y := matches[0].Element.Center()
	a := platform.Action{Kind: platform.ActionTap, X: x, Y: y}
	switch p.ClickAction {
	case "double_tap":
		a.Kind = platform.ActionDoubleTap
	case "long_press":
		a.Kind = platform.ActionLongPress
		a.Duration = longPressDuration
	}
	if err := r.perform(ctx, a); err != nil {
		return "", err
	}
	detail := fmt.Sprintf("%s nav %q: %s", p.NavType, p.Button, describeMatch(matches))
	if p.App != "" {
		detail += " in " + p.App
	}
	return detail, nil
}

func (r *runner) recognize(ctx context.Context, p script.RecognizeParams) (string, error) {
	if !r.cfg.PageRecognitionEnabled {
		return "page recognition disabled", nil
	}
	if p.Expected != "" {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = r.cfg.defaultTimeout()
		}
		if err := r.waitForPage(ctx, p.Expected, timeout, p.Interval); err != nil {
			return "", err
		}
		return "page is " + string(p.Expected), nil
	}
	snap, err := r.capture(ctx)
	if err != nil {
		return "", err
	}
	state, err := r.classify(ctx, snap)
	if err != nil {
		return "", err
	}
	return "page is " + string(state), nil
}

// waitForPage polls until the classified page equals want.
func (r *runner) waitForPage(ctx context.Context, want model.PageState, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = r.cfg.verifyInterval()
	}
	err := pollUntil(ctx, interval, timeout, 0, func(ctx context.Context, _ int) error {
		state, err := r.currentPage(ctx)
		if err != nil {
			return err
		}
		if state != want {
			return fmt.Errorf("page is %s", state)
		}
		return nil
	})
	if errors.Is(err, errPollTimeout) {
		return fmt.Errorf("%w: page did not become %s: %v", ErrVerificationTimeout, want, err)
	}
	return err
}

// currentPage captures and classifies the screen.
func (r *runner) currentPage(ctx context.Context) (model.PageState, error) {
	snap, err := r.p.Device.CaptureSnapshot(ctx)
	if err != nil {
		return model.PageUnknown, fmt.Errorf("capture snapshot: %w", err)
	}
	r.ec.setSnapshot(snap)
	return r.classify(ctx, snap)
}

func (r *runner) loopStart(ctx context.Context, pos int, in *script.Instruction, p script.LoopStartParams) int {
	entry, _ := r.prog.Loops.ByStart(pos)
	if !p.Infinite && p.Count == 0 {
		r.ec.executed++
		r.ec.record(in, "", OutcomeSuccess, 0, fmt.Sprintf("loop %s skipped (count 0)", p.LoopID))
		return entry.End + 1
	}
	limit := p.Count
	if p.Infinite {
		limit = p.MaxIterations
		if limit <= 0 {
			limit = r.cfg.maxInfinite()
		}
	}
	if p.Break.Kind == script.BreakPageChange {
		if _, err := r.currentPage(ctx); err != nil {
			r.logger.Warn("page check at loop entry failed", "loop", p.LoopID, "error", err)
		}
	}
	r.ec.pushLoop(loopFrame{entry: entry, params: p, limit: limit, startPage: r.ec.PageState})
	r.ec.executed++
	r.ec.record(in, "", OutcomeSuccess, 0, fmt.Sprintf("loop %s entered (%s)", p.LoopID, iterations(p, limit)))
	return pos + 1
}

func iterations(p script.LoopStartParams, limit int) string {
	if p.Infinite {
		return fmt.Sprintf("infinite, at most %d", limit)
	}
	return fmt.Sprintf("%d iteration(s)", limit)
}

func (r *runner) loopEnd(ctx context.Context, pos int, in *script.Instruction) (int, *halt) {
	entry, _ := r.prog.Loops.ByEnd(pos)
	f := r.ec.topLoop(entry.Start)
	if f == nil {
		r.ec.failed++
		r.ec.record(in, "", OutcomeFail, 0, "loop end reached without entering its loop")
		return pos, &halt{state: StateFailed, message: fmt.Sprintf("step %q: loop %s was not entered", in.ID(), entry.LoopID)}
	}
	f.count++
	again := f.count < f.limit
	detail := fmt.Sprintf("loop %s iteration %d done", f.params.LoopID, f.count)
	if again && f.params.Break.Kind != script.BreakNone {
		if reason, hit := r.breakHit(ctx, f); hit {
			again = false
			detail = joinDetail(detail, "break: "+reason)
		}
	}
	if again {
		if err := sleep(ctx, f.params.Delay); err != nil {
			if h := r.interrupted(in, err); h != nil {
				return pos, h
			}
		}
		r.ec.executed++
		r.ec.record(in, "", OutcomeSuccess, 0, detail)
		return entry.Start + 1, nil
	}
	if f.params.Infinite && f.count >= f.limit {
		r.logger.Warn("infinite loop stopped at iteration limit", "loop", f.params.LoopID, "limit", f.limit)
		detail = joinDetail(detail, fmt.Sprintf("stopped at max iterations %d", f.limit))
	}
	r.ec.popLoop()
	r.ec.executed++
	r.ec.record(in, "", OutcomeSuccess, 0, joinDetail(detail, "loop finished"))
	return pos + 1, nil
}

func (r *runner) conditional(ctx context.Context, in *script.Instruction, p script.ConditionalParams) int {
	ok := r.evaluate(ctx, p.Condition)
	target, branch := p.Then, "then"
	if !ok {
		target, branch = p.Else, "else"
	}
	tpos, _ := r.prog.Position(target)
	detail := fmt.Sprintf("%s is %t, jump to %s step %q", p.Condition, ok, branch, target)
	if left := r.ec.leaveLoopsFor(tpos); len(left) > 0 {
		detail += fmt.Sprintf(", left loop(s) %s", strings.Join(left, ", "))
	}
	r.ec.executed++
	r.ec.record(in, "", OutcomeSuccess, 0, detail)
	return tpos
}
