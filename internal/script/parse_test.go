package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id string, t StepType, params map[string]any) Step {
	return Step{ID: id, Type: t, Parameters: params}
}

func tap(id string) Step {
	return step(id, StepTap, map[string]any{"x": 10, "y": 20})
}

func loopStart(id, loopID string, count int) Step {
	p := map[string]any{"loop_count": count}
	if loopID != "" {
		p["loop_id"] = loopID
	}
	return step(id, StepLoopStart, p)
}

func loopEnd(id, loopID string) Step {
	p := map[string]any{}
	if loopID != "" {
		p["loop_id"] = loopID
	}
	return step(id, StepLoopEnd, p)
}

func requireParseError(t *testing.T, err error) *ParseError {
	t.Helper()
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	return pe
}

func TestParse_BalancedLoopsIndexSize(t *testing.T) {
	cases := map[string][]Step{
		"single": {loopStart("s", "L1", 3), tap("a"), loopEnd("e", "L1")},
		"nested": {
			loopStart("s1", "outer", 2), tap("a"),
			loopStart("s2", "inner", 2), tap("b"), loopEnd("e2", "inner"),
			loopEnd("e1", "outer"),
		},
		"adjacent pairing": {
			loopStart("s1", "", 2), loopStart("s2", "", 2), tap("a"), loopEnd("e2", ""), loopEnd("e1", ""),
		},
		"sequential": {
			loopStart("s1", "A", 1), tap("a"), loopEnd("e1", "A"),
			loopStart("s2", "B", 1), tap("b"), loopEnd("e2", "B"),
		},
	}
	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			prog, err := Parse(steps)
			require.NoError(t, err)
			starts := 0
			for _, s := range steps {
				if s.Type == StepLoopStart {
					starts++
				}
			}
			assert.Equal(t, starts, prog.Loops.Len())
		})
	}
}

func TestParse_NestedPairingUsesStack(t *testing.T) {
	prog, err := Parse([]Step{
		loopStart("s1", "", 2), loopStart("s2", "", 2), tap("a"), loopEnd("e2", ""), loopEnd("e1", ""),
	})
	require.NoError(t, err)

	outer, ok := prog.Loops.ByStart(0)
	require.True(t, ok)
	assert.Equal(t, 4, outer.End)
	assert.Equal(t, 0, outer.Depth)

	inner, ok := prog.Loops.ByEnd(3)
	require.True(t, ok)
	assert.Equal(t, 1, inner.Start)
	assert.Equal(t, 1, inner.Depth)
	assert.Equal(t, "s2", inner.LoopID, "loop id defaults to the step id")
	assert.Equal(t, 2, prog.Loops.MaxDepth())
}

func TestParse_ExplicitLoopEndIDMatchesStepID(t *testing.T) {
	prog, err := Parse([]Step{loopStart("outer", "", 2), tap("a"), loopEnd("end", "outer")})
	require.NoError(t, err)
	e, ok := prog.Loops.ByEnd(2)
	require.True(t, ok)
	assert.Equal(t, Paired, e.State)
}

func TestParse_UnmatchedBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		steps  []Step
		stepID string
		reason ParseReason
	}{
		{"start without end", []Step{tap("a"), loopStart("s", "L", 2), tap("b")}, "s", ReasonUnmatchedLoopStart},
		{"end without start", []Step{tap("a"), loopEnd("e", "")}, "e", ReasonUnmatchedLoopEnd},
		{"end with unknown id", []Step{loopStart("s", "L", 2), loopEnd("e", "X"), loopEnd("e2", "L")}, "e", ReasonUnmatchedLoopEnd},
		{"inner start unclosed", []Step{loopStart("s1", "A", 2), loopStart("s2", "B", 2), loopEnd("e1", "")}, "s1", ReasonUnmatchedLoopStart},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.steps)
			pe := requireParseError(t, err)
			assert.Equal(t, tc.stepID, pe.StepID)
			assert.Equal(t, tc.reason, pe.Reason)
		})
	}
}

func TestParse_CrossingRegions(t *testing.T) {
	_, err := Parse([]Step{
		loopStart("s1", "A", 2), loopStart("s2", "B", 2), tap("x"),
		loopEnd("e1", "A"), loopEnd("e2", "B"),
	})
	pe := requireParseError(t, err)
	assert.Equal(t, "e1", pe.StepID)
	assert.Equal(t, ReasonCrossingLoop, pe.Reason)
}

func TestParse_Idempotent(t *testing.T) {
	steps := []Step{
		loopStart("s1", "", 2), tap("a"),
		loopStart("s2", "inner", 3), tap("b"), loopEnd("e2", "inner"),
		loopEnd("e1", ""),
	}
	a, err := Parse(steps)
	require.NoError(t, err)
	b, err := Parse(steps)
	require.NoError(t, err)
	assert.Equal(t, a.Loops, b.Loops)
}

func TestParse_StepValidation(t *testing.T) {
	cases := []struct {
		name   string
		steps  []Step
		stepID string
		reason ParseReason
	}{
		{"unknown type", []Step{tap("a"), step("b", "teleport", nil)}, "b", ReasonUnknownType},
		{"duplicate id", []Step{tap("a"), tap("a")}, "a", ReasonDuplicateID},
		{"missing id", []Step{tap("a"), step("", StepWait, map[string]any{"duration_ms": 10})}, "#2", ReasonMissingID},
		{"tap without coordinates", []Step{step("a", StepTap, map[string]any{"x": 1})}, "a", ReasonInvalidParameter},
		{"wait without duration", []Step{step("w", StepWait, nil)}, "w", ReasonInvalidParameter},
		{"extract without key", []Step{step("x", StepExtractElement, map[string]any{"target": "Price"})}, "x", ReasonInvalidParameter},
		{"bad page state", []Step{step("p", StepWaitForPageState, map[string]any{"expected_state": "nowhere"})}, "p", ReasonInvalidParameter},
		{"parent loop mismatch", []Step{{ID: "a", Type: StepTap, ParentLoopID: "L", Parameters: map[string]any{"x": 1, "y": 1}}}, "a", ReasonParentLoop},
		{"empty", nil, "", ReasonEmptyScript},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.steps)
			pe := requireParseError(t, err)
			assert.Equal(t, tc.stepID, pe.StepID)
			assert.Equal(t, tc.reason, pe.Reason)
		})
	}
}

func TestParse_ParentLoopInside(t *testing.T) {
	body := tap("a")
	body.ParentLoopID = "L"
	_, err := Parse([]Step{loopStart("s", "L", 2), body, loopEnd("e", "L")})
	assert.NoError(t, err)
}

func conditional(id, then, els string) Step {
	return step(id, StepConditionalAction, map[string]any{
		"condition": map[string]any{"kind": "extracted_exists", "key": "price"},
		"then_step": then,
		"else_step": els,
	})
}

func TestParse_ConditionalTargets(t *testing.T) {
	_, err := Parse([]Step{conditional("c", "a", "b"), tap("a"), tap("b")})
	require.NoError(t, err)

	_, err = Parse([]Step{conditional("c", "a", "nope"), tap("a")})
	pe := requireParseError(t, err)
	assert.Equal(t, "c", pe.StepID)
	assert.Equal(t, ReasonUnknownTarget, pe.Reason)

	_, err = Parse([]Step{conditional("c", "a", "b"), tap("a"), loopStart("s", "L", 2), tap("b"), loopEnd("e", "L")})
	pe = requireParseError(t, err)
	assert.Equal(t, ReasonBranchIntoLoop, pe.Reason)

	_, err = Parse([]Step{loopStart("s", "L", 2), conditional("c", "a", "b"), tap("a"), tap("b"), loopEnd("e", "L")})
	assert.NoError(t, err, "branches within the same loop are allowed")

	off := false
	disabled := tap("b")
	disabled.Enabled = &off
	_, err = Parse([]Step{conditional("c", "a", "b"), tap("a"), disabled})
	pe = requireParseError(t, err)
	assert.Contains(t, pe.Detail, "disabled")
}

func TestParse_OrderAndDisabled(t *testing.T) {
	off := false
	a, b, c := tap("a"), tap("b"), tap("c")
	a.Order, b.Order, c.Order = 2, 1, 1
	c.Enabled = &off
	d := tap("d")
	d.Order = 1

	prog, err := Parse([]Step{a, b, c, d})
	require.NoError(t, err)
	require.Equal(t, 3, prog.Len())
	assert.Equal(t, 4, prog.Total)
	assert.Equal(t, "b", prog.Instructions[0].ID())
	assert.Equal(t, "d", prog.Instructions[1].ID())
	assert.Equal(t, "a", prog.Instructions[2].ID())
	require.Len(t, prog.Disabled, 1)
	assert.Equal(t, "c", prog.Disabled[0].ID)

	pos, ok := prog.Position("a")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
	_, ok = prog.Position("c")
	assert.False(t, ok)
}

func TestParse_RetryVerifyAndFallbacks(t *testing.T) {
	prog, err := Parse([]Step{step("find", StepSmartTap, map[string]any{
		"target":            "Buy",
		"retry_count":       2,
		"retry_interval_ms": 250,
		"timeout_ms":        4000,
		"verify":            map[string]any{"type": "element_exists", "target": "Cart", "timeout_ms": 1500},
		"fallback_actions": []any{
			map[string]any{"type": "swipe", "parameters": map[string]any{"direction": "up"}},
			map[string]any{"id": "back", "type": "tap", "parameters": map[string]any{"x": 50, "y": 80}},
		},
		"future_option": true,
	})})
	require.NoError(t, err)
	in := prog.Instructions[0]

	assert.Equal(t, 2, in.Retry.MaxRetries)
	assert.Equal(t, 3, in.Retry.Attempts())
	assert.Equal(t, int64(250), in.Retry.Interval.Milliseconds())
	assert.Equal(t, int64(4000), in.Retry.Timeout.Milliseconds())

	require.NotNil(t, in.Verify)
	assert.Equal(t, VerifyElementExists, in.Verify.Kind)
	assert.Equal(t, "Cart", in.Verify.Target)
	assert.Equal(t, int64(1500), in.Verify.Timeout.Milliseconds())

	require.Len(t, in.Fallbacks, 2)
	assert.Equal(t, "find.fallback.1", in.Fallbacks[0].ID())
	assert.Equal(t, "back", in.Fallbacks[1].ID())
	assert.Equal(t, map[string]any{"future_option": true}, in.Residual)
}

func TestParse_FallbackMustBeSimple(t *testing.T) {
	_, err := Parse([]Step{step("find", StepSmartTap, map[string]any{
		"target":           "Buy",
		"fallback_actions": []any{map[string]any{"type": "loop_start"}},
	})})
	pe := requireParseError(t, err)
	assert.Equal(t, ReasonInvalidParameter, pe.Reason)
	assert.Contains(t, pe.Detail, "fallback")
}

func TestAnalyze_CollectsAllIssues(t *testing.T) {
	rep := Analyze([]Step{
		loopStart("s1", "A", 2), tap("a"), loopEnd("e1", "A"),
		loopEnd("stray", ""),
		step("bad", "fly", nil),
		step("w", StepWait, map[string]any{"duration_ms": 10, "colour": "red"}),
	})
	assert.False(t, rep.Valid)
	assert.Equal(t, 6, rep.Steps)
	assert.Equal(t, 1, rep.LoopCount)
	assert.Equal(t, 1, rep.MaxDepth)
	require.Len(t, rep.Issues, 2)
	assert.Equal(t, ReasonUnknownType, rep.Issues[0].Reason)
	assert.Equal(t, "stray", rep.Issues[1].StepID)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "colour")
}

func TestAnalyze_Valid(t *testing.T) {
	rep := Analyze([]Step{tap("a"), tap("b")})
	assert.True(t, rep.Valid)
	assert.Equal(t, 2, rep.Enabled)
	assert.Empty(t, rep.Issues)
}

func TestIsParseError(t *testing.T) {
	_, err := Parse(nil)
	assert.True(t, IsParseError(err))
	assert.False(t, IsParseError(assert.AnError))
}
