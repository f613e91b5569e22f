package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/script"
)

var errNotYet = errors.New("not yet")

// verify polls spec until it holds or its timeout expires.
func (r *runner) verify(ctx context.Context, spec script.VerificationSpec) error {
	interval := spec.Interval
	if interval <= 0 {
		interval = r.cfg.verifyInterval()
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.defaultTimeout()
	}

	var check func(ctx context.Context) error
	switch spec.Kind {
	case script.VerifyTextChange:
		baseline := r.ec.baseline
		if baseline == nil {
			snap, err := r.capture(ctx)
			if err != nil {
				return err
			}
			baseline = snap
		}
		check = func(ctx context.Context) error {
			snap, err := r.capture(ctx)
			if err != nil {
				return err
			}
			if spec.Target != "" {
				if model.ContainsText(snap.Elements, spec.Target) {
					return nil
				}
				return fmt.Errorf("%w: text %q not shown", errNotYet, spec.Target)
			}
			if d := snap.Diff(baseline); len(d.Added) > 0 || len(d.Changed) > 0 {
				return nil
			}
			return fmt.Errorf("%w: screen unchanged", errNotYet)
		}
	case script.VerifyPageStateChange:
		before := r.ec.PageState
		if r.ec.baseline != nil {
			before = r.ec.baselinePage
		}
		check = func(ctx context.Context) error {
			state, err := r.currentPage(ctx)
			if err != nil {
				return err
			}
			if spec.Target != "" {
				if state == model.PageState(spec.Target) {
					return nil
				}
				return fmt.Errorf("%w: page is %s", errNotYet, state)
			}
			if state != before {
				return nil
			}
			return fmt.Errorf("%w: page still %s", errNotYet, state)
		}
	case script.VerifyElementExists, script.VerifyElementDisappears:
		cond := model.FindCondition{Method: model.MatchContains, Value: spec.Target}
		if spec.Find != nil {
			cond = *spec.Find
		}
		want := spec.Kind == script.VerifyElementExists
		check = func(ctx context.Context) error {
			found, err := r.present(ctx, cond)
			if err != nil {
				return err
			}
			if found == want {
				return nil
			}
			if want {
				return fmt.Errorf("%w: %s absent", errNotYet, cond)
			}
			return fmt.Errorf("%w: %s still present", errNotYet, cond)
		}
	default:
		return fmt.Errorf("%w: unknown verification %q", errInvalidStep, spec.Kind)
	}

	err := pollUntil(ctx, interval, timeout, 0, func(ctx context.Context, _ int) error {
		return check(ctx)
	})
	if errors.Is(err, errPollTimeout) {
		return fmt.Errorf("%w: %s: %v", ErrVerificationTimeout, spec, err)
	}
	return err
}

func isChangeCheck(spec script.VerificationSpec) bool {
	return spec.Kind == script.VerifyTextChange || spec.Kind == script.VerifyPageStateChange
}

// pendingChangeCheck returns the change verification that will judge the
// action of in: its own, or that of a verify_action step right after it.
func (r *runner) pendingChangeCheck(in *script.Instruction, verifying bool) (script.VerificationSpec, bool) {
	if verifying && isChangeCheck(*in.Verify) {
		return *in.Verify, true
	}
	if _, isVerify := in.Params.(script.VerifyParams); isVerify {
		return script.VerificationSpec{}, false
	}
	next := r.ec.Cursor + 1
	if next >= len(r.prog.Instructions) {
		return script.VerificationSpec{}, false
	}
	if p, ok := r.prog.Instructions[next].Params.(script.VerifyParams); ok && isChangeCheck(p.Spec) {
		return p.Spec, true
	}
	return script.VerificationSpec{}, false
}

// freshBaseline records the screen a change verification compares against.
// A snapshot taken before an earlier action is captured again.
func (r *runner) freshBaseline(ctx context.Context, spec script.VerificationSpec) error {
	if r.ec.Snapshot == nil || r.ec.snapshotStale {
		if _, err := r.capture(ctx); err != nil {
			return err
		}
	}
	if spec.Kind == script.VerifyPageStateChange && r.ec.pageStale {
		if _, err := r.classify(ctx, r.ec.Snapshot); err != nil {
			return err
		}
	}
	r.ec.markBaseline()
	return nil
}

// present reports whether cond matches anything on a fresh snapshot.
func (r *runner) present(ctx context.Context, cond model.FindCondition) (bool, error) {
	snap, err := r.capture(ctx)
	if err != nil {
		return false, err
	}
	matches, err := r.p.Matcher.Find(ctx, snap, cond)
	if err != nil {
		return false, fmt.Errorf("%w: find %s: %w", ErrActionFailed, cond, err)
	}
	return len(matches) > 0, nil
}

// evaluate tests a branch condition against the execution context.
func (r *runner) evaluate(ctx context.Context, c script.Condition) bool {
	var ok bool
	switch c.Kind {
	case script.CondPageState:
		if r.cfg.PageRecognitionEnabled && r.ec.pageStale {
			if _, err := r.currentPage(ctx); err != nil {
				r.logger.Warn("page refresh for condition failed", "error", err)
			}
		}
		ok = r.ec.PageState == c.State
	case script.CondExtractedExists:
		_, ok = r.ec.Value(c.Key)
	case script.CondExtractedMissing:
		_, found := r.ec.Value(c.Key)
		ok = !found
	case script.CondExtractedEquals:
		v, found := r.ec.Value(c.Key)
		ok = found && valueString(v) == c.Value
	}
	if c.Negate {
		return !ok
	}
	return ok
}

// valueString renders an extracted value for comparison. Field maps
// compare by their text.
func valueString(v any) string {
	if m, ok := v.(map[string]any); ok {
		if t, ok := m["text"]; ok {
			return fmt.Sprint(t)
		}
	}
	return fmt.Sprint(v)
}

// breakHit evaluates a loop's break condition before the next iteration.
func (r *runner) breakHit(ctx context.Context, f *loopFrame) (string, bool) {
	b := f.params.Break
	switch b.Kind {
	case script.BreakPageChange:
		state, err := r.currentPage(ctx)
		if err != nil {
			r.logger.Warn("break condition check failed", "loop", f.params.LoopID, "error", err)
			return "", false
		}
		if state != f.startPage {
			return fmt.Sprintf("page changed from %s to %s", f.startPage, state), true
		}
	case script.BreakElementFound, script.BreakElementNotFound:
		found, err := r.present(ctx, model.FindCondition{Method: model.MatchContains, Value: b.Value})
		if err != nil {
			r.logger.Warn("break condition check failed", "loop", f.params.LoopID, "error", err)
			return "", false
		}
		if found && b.Kind == script.BreakElementFound {
			return fmt.Sprintf("%q found", b.Value), true
		}
		if !found && b.Kind == script.BreakElementNotFound {
			return fmt.Sprintf("%q not found", b.Value), true
		}
	}
	return "", false
}
