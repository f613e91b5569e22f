package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/platform"
	"github.com/mj1618/smartscript/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRun_LoopRunsBodyNTimes(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{"loop_count": 3}),
		tapStep("a", 100, 200),
		step("e", script.StepLoopEnd, nil),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	assert.True(t, res.Success)
	assert.Equal(t, 3, dev.tapsAt(100, 200))
	assert.Len(t, entriesFor(res, "a", OutcomeSuccess), 3)
	// loop_start once, then tap and loop_end per iteration.
	assert.Equal(t, 7, res.ExecutedSteps)
	assert.Equal(t, 3, res.TotalSteps)
	assert.Equal(t, 0, res.SkippedSteps)
}

func TestRun_NestedLoops(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())
	prog := mustParse(t,
		step("outer", script.StepLoopStart, map[string]any{"loop_count": 2}),
		tapStep("a", 1, 1),
		step("inner", script.StepLoopStart, map[string]any{"loop_count": 3}),
		tapStep("b", 2, 2),
		step("inner_end", script.StepLoopEnd, map[string]any{"loop_id": "inner"}),
		step("outer_end", script.StepLoopEnd, map[string]any{"loop_id": "outer"}),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	assert.Equal(t, 2, dev.tapsAt(1, 1))
	assert.Equal(t, 6, dev.tapsAt(2, 2))
}

func TestRun_ZeroCountLoopSkipsBody(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{"loop_count": 0}),
		tapStep("a", 100, 200),
		step("e", script.StepLoopEnd, nil),
		tapStep("after", 5, 5),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, dev.tapsAt(100, 200))
	assert.Equal(t, 1, dev.tapsAt(5, 5))
	assert.Equal(t, 2, res.SkippedSteps)
}

func TestRun_InfiniteLoopStopsAtMaxIterations(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{"loop_count": -1, "max_iterations": 4}),
		tapStep("a", 100, 200),
		step("e", script.StepLoopEnd, nil),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 4, dev.tapsAt(100, 200))
	last := entriesFor(res, "e", OutcomeSuccess)
	require.NotEmpty(t, last)
	assert.Contains(t, last[len(last)-1].Detail, "stopped at max iterations 4")
}

func TestRun_InfiniteLoopUsesConfiguredGuard(t *testing.T) {
	dev := &fakeDevice{}
	cfg := testConfig()
	cfg.MaxInfiniteIterations = 5
	e := newExecutor(t, dev, nil, cfg)
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{"is_infinite_loop": true}),
		tapStep("a", 100, 200),
		step("e", script.StepLoopEnd, nil),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 5, dev.tapsAt(100, 200))
}

func TestRun_BreakConditionEndsLoop(t *testing.T) {
	dev := &fakeDevice{screen: func(performed int) *model.Snapshot {
		if performed >= 3 {
			return screenWith("com.app", button(2, "Done", 540, 900))
		}
		return homeScreen()
	}}
	e := newExecutor(t, dev, nil, testConfig())
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{
			"loop_count":            10,
			"break_condition":       "element_found",
			"break_condition_value": "Done",
		}),
		tapStep("a", 100, 200),
		step("e", script.StepLoopEnd, nil),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, dev.tapsAt(100, 200))
}

func TestRun_BreakOnPageChange(t *testing.T) {
	dev := &fakeDevice{screen: func(performed int) *model.Snapshot {
		if performed >= 2 {
			return screenWith("com.app.detail")
		}
		return homeScreen()
	}}
	rec := byPackage(map[string]model.PageState{"com.app": model.PageAppMain, "com.app.detail": model.PageDetail})
	e := newExecutor(t, dev, rec, testConfig())
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{"loop_count": 10, "break_condition": "page_change"}),
		tapStep("a", 100, 200),
		step("e", script.StepLoopEnd, nil),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, dev.tapsAt(100, 200))
	assert.Equal(t, model.PageDetail, res.FinalPageState)
}

func TestRun_SmartFindMissingExhaustsRetries(t *testing.T) {
	steps := []script.Step{
		step("find", script.StepSmartFindElement, map[string]any{"target": "Nowhere", "retry_count": 2}),
		tapStep("next", 5, 5),
	}

	t.Run("halts", func(t *testing.T) {
		dev := &fakeDevice{}
		e := newExecutor(t, dev, nil, testConfig())

		res := e.Run(context.Background(), mustParse(t, steps...))

		assert.Equal(t, StateFailed, res.State)
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.FailedSteps)
		assert.Less(t, res.ExecutedSteps, res.TotalSteps)
		assert.Equal(t, 0, dev.tapsAt(5, 5))
		assert.Len(t, entriesFor(res, "find", OutcomeRetry), 2)
		assert.Contains(t, res.Message, `step "find"`)
		assert.Contains(t, res.Message, ErrMatchNotFound.Error())
	})

	t.Run("continues on error", func(t *testing.T) {
		dev := &fakeDevice{}
		cfg := testConfig()
		cfg.ContinueOnError = true
		e := newExecutor(t, dev, nil, cfg)

		res := e.Run(context.Background(), mustParse(t, steps...))

		assert.Equal(t, StateCompleted, res.State)
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.FailedSteps)
		assert.Equal(t, 1, res.ExecutedSteps)
		assert.Equal(t, 1, dev.tapsAt(5, 5))
	})
}

func TestRun_DefaultRetryCountApplies(t *testing.T) {
	dev := &fakeDevice{}
	cfg := testConfig()
	cfg.DefaultRetryCount = 1
	e := newExecutor(t, dev, nil, cfg)

	res := e.Run(context.Background(), mustParse(t,
		step("find", script.StepSmartTap, map[string]any{"target": "Nowhere"}),
	))

	assert.Equal(t, StateFailed, res.State)
	assert.Len(t, entriesFor(res, "find", OutcomeRetry), 1)
}

func TestRun_SmartTapActsOnTopMatch(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())

	res := e.Run(context.Background(), mustParse(t,
		step("go", script.StepSmartTap, map[string]any{"target": "Start", "match_method": "text"}),
	))

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	assert.Equal(t, 1, dev.tapsAt(540, 900))
	ok := entriesFor(res, "go", OutcomeSuccess)
	require.Len(t, ok, 1)
	assert.Contains(t, ok[0].Detail, `"Start"`)
}

func TestRun_ConditionalRunsSelectedBranch(t *testing.T) {
	build := func(kind string) *script.Program {
		return mustParse(t,
			step("extract", script.StepExtractElement, map[string]any{"target": "Start", "save_to_variable": "start"}),
			step("check", script.StepConditionalAction, map[string]any{
				"condition": map[string]any{"kind": kind, "key": "start"},
				"then_step": "then_tap",
				"else_step": "else_tap",
			}),
			tapStep("then_tap", 1, 1),
			step("done", script.StepCompleteWorkflow, nil),
			tapStep("else_tap", 2, 2),
		)
	}

	t.Run("then", func(t *testing.T) {
		dev := &fakeDevice{}
		res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), build("extracted_exists"))

		require.Equal(t, StateCompleted, res.State, describeLog(res))
		assert.Equal(t, 1, dev.tapsAt(1, 1))
		assert.Equal(t, 0, dev.tapsAt(2, 2))
		assert.Equal(t, 1, res.SkippedSteps)
		fields, ok := res.Extracted["start"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Start", fields["text"])
		assert.Equal(t, true, fields["clickable"])
	})

	t.Run("else", func(t *testing.T) {
		dev := &fakeDevice{}
		res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), build("extracted_missing"))

		require.Equal(t, StateCompleted, res.State)
		assert.Equal(t, 0, dev.tapsAt(1, 1))
		assert.Equal(t, 1, dev.tapsAt(2, 2))
		// then_tap and done never ran.
		assert.Equal(t, 2, res.SkippedSteps)
	})
}

func TestRun_ConditionalOnPageStateLeavesLoop(t *testing.T) {
	dev := &fakeDevice{screen: func(performed int) *model.Snapshot {
		if performed >= 2 {
			return screenWith("com.app.login")
		}
		return homeScreen()
	}}
	rec := byPackage(map[string]model.PageState{"com.app": model.PageHome, "com.app.login": model.PageLogin})
	e := newExecutor(t, dev, rec, testConfig())
	prog := mustParse(t,
		step("s", script.StepLoopStart, map[string]any{"loop_count": 10}),
		tapStep("a", 100, 200),
		step("check", script.StepConditionalAction, map[string]any{
			"condition": map[string]any{"kind": "page_state", "state": "login"},
			"then_step": "out",
			"else_step": "e",
		}),
		step("e", script.StepLoopEnd, nil),
		tapStep("out", 7, 7),
	)

	res := e.Run(context.Background(), prog)

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	assert.Equal(t, 2, dev.tapsAt(100, 200))
	assert.Equal(t, 1, dev.tapsAt(7, 7))
	checks := entriesFor(res, "check", OutcomeSuccess)
	require.Len(t, checks, 2)
	assert.Contains(t, checks[1].Detail, "left loop(s) s")
}

func TestRun_CancelBetweenSteps(t *testing.T) {
	reached := make(chan struct{})
	release := make(chan struct{})
	dev := &fakeDevice{onPerform: func(a platform.Action) {
		if a.X == 2 {
			close(reached)
			<-release
		}
	}}
	e := newExecutor(t, dev, nil, testConfig())
	prog := mustParse(t,
		tapStep("s1", 1, 1), tapStep("s2", 2, 2), tapStep("s3", 3, 3),
		tapStep("s4", 4, 4), tapStep("s5", 5, 5),
	)

	run := e.Start(context.Background(), prog)
	<-reached
	assert.Equal(t, StateRunning, run.State())
	run.Cancel()
	close(release)
	res := run.Wait()

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, StateCancelled, run.State())
	assert.Equal(t, 2, res.ExecutedSteps)
	assert.Equal(t, 3, res.SkippedSteps)
	assert.Len(t, entriesFor(res, "s3", OutcomeInterrupted), 1)
	assert.Equal(t, 0, dev.tapsAt(3, 3))
}

func TestRun_CancelInsideLoopSkipsRemainder(t *testing.T) {
	prog := func() *script.Program {
		return mustParse(t,
			step("s", script.StepLoopStart, map[string]any{"loop_count": 3}),
			tapStep("a", 1, 1),
			tapStep("b", 2, 2),
			step("e", script.StepLoopEnd, nil),
			tapStep("z", 9, 9),
		)
	}
	check := func(t *testing.T, dev *fakeDevice, res *Result) {
		t.Helper()
		assert.Equal(t, StateCancelled, res.State, describeLog(res))
		assert.Equal(t, 2, dev.tapsAt(1, 1))
		assert.Equal(t, 1, dev.tapsAt(2, 2))
		assert.Equal(t, 0, dev.tapsAt(9, 9))
		assert.Len(t, entriesFor(res, "b", OutcomeInterrupted), 1)
		assert.Len(t, entriesFor(res, "e", OutcomeSkip), 1)
		assert.Len(t, entriesFor(res, "z", OutcomeSkip), 1)
		assert.Equal(t, 3, res.SkippedSteps)
	}

	t.Run("run cancel", func(t *testing.T) {
		reached := make(chan struct{})
		release := make(chan struct{})
		taps := 0
		dev := &fakeDevice{onPerform: func(a platform.Action) {
			if a.X == 1 {
				taps++
				if taps == 2 {
					close(reached)
					<-release
				}
			}
		}}
		run := newExecutor(t, dev, nil, testConfig()).Start(context.Background(), prog())
		<-reached
		run.Cancel()
		close(release)
		check(t, dev, run.Wait())
	})

	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		taps := 0
		dev := &fakeDevice{onPerform: func(a platform.Action) {
			if a.X == 1 {
				taps++
				if taps == 2 {
					cancel()
				}
			}
		}}
		check(t, dev, newExecutor(t, dev, nil, testConfig()).Run(ctx, prog()))
	})
}

func TestRun_ContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dev := &fakeDevice{onPerform: func(a platform.Action) {
		if a.X == 1 {
			cancel()
		}
	}}
	e := newExecutor(t, dev, nil, testConfig())

	res := e.Run(ctx, mustParse(t, tapStep("s1", 1, 1), tapStep("s2", 2, 2)))

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, 1, res.ExecutedSteps)
	assert.Equal(t, 1, res.SkippedSteps)
}

func TestRun_DeviceUnreachableIsFatal(t *testing.T) {
	dev := &fakeDevice{performErr: func(platform.Action) error {
		return fmt.Errorf("%w: adb: device offline", platform.ErrDeviceUnreachable)
	}}
	cfg := testConfig()
	cfg.ContinueOnError = true
	e := newExecutor(t, dev, nil, cfg)

	res := e.Run(context.Background(), mustParse(t,
		step("a", script.StepTap, map[string]any{"x": 1, "y": 1, "retry_count": 3}),
		tapStep("b", 2, 2),
	))

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.FailedSteps)
	assert.Empty(t, entriesFor(res, "a", OutcomeRetry))
	assert.Equal(t, 1, res.SkippedSteps)
	assert.Contains(t, res.Message, "device unreachable")
}

func TestRun_RejectedCommandIsRetried(t *testing.T) {
	calls := 0
	dev := &fakeDevice{performErr: func(platform.Action) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: input: unknown", platform.ErrCommandRejected)
		}
		return nil
	}}
	e := newExecutor(t, dev, nil, testConfig())

	res := e.Run(context.Background(), mustParse(t, tapStep("a", 1, 1)))

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	assert.Len(t, entriesFor(res, "a", OutcomeRetry), 2)
	assert.Equal(t, 1, dev.tapsAt(1, 1))
}

func TestRun_FallbackRecoversSmartTap(t *testing.T) {
	src := `
name: recover
steps:
  - id: go
    type: smart_tap
    parameters:
      target: Continue
      retry_count: 0
      fallback_actions:
        - type: tap
          parameters: {x: 5, y: 5}
`
	screen := func(performed int) *model.Snapshot {
		if performed >= 1 {
			return screenWith("com.app", button(2, "Continue", 300, 300))
		}
		return homeScreen()
	}

	t.Run("enabled", func(t *testing.T) {
		dev := &fakeDevice{screen: screen}
		res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustDecode(t, src))

		require.Equal(t, StateCompleted, res.State, describeLog(res))
		assert.Equal(t, 1, dev.tapsAt(5, 5))
		assert.Equal(t, 1, dev.tapsAt(300, 300))
		ok := entriesFor(res, "go", OutcomeSuccess)
		require.Len(t, ok, 1)
		assert.Contains(t, ok[0].Detail, "recovered by fallback")
		assert.Len(t, entriesFor(res, "go.fallback.1", OutcomeInfo), 1)
	})

	t.Run("disabled", func(t *testing.T) {
		dev := &fakeDevice{screen: screen}
		cfg := testConfig()
		cfg.SmartRecoveryEnabled = false
		res := newExecutor(t, dev, nil, cfg).Run(context.Background(), mustDecode(t, src))

		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, 0, dev.tapsAt(5, 5))
	})
}

func TestRun_AutoVerificationRetriesStep(t *testing.T) {
	src := `
- id: tap
  type: tap
  parameters:
    x: 10
    y: 10
    retry_count: 2
    verify: {type: element_exists, target: Welcome, timeout_ms: 20}
`
	screen := func(performed int) *model.Snapshot {
		if performed >= 2 {
			return screenWith("com.app", button(2, "Welcome", 300, 300))
		}
		return homeScreen()
	}

	t.Run("enabled", func(t *testing.T) {
		dev := &fakeDevice{screen: screen}
		res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustDecode(t, src))

		require.Equal(t, StateCompleted, res.State, describeLog(res))
		assert.Equal(t, 2, dev.tapsAt(10, 10))
		assert.Len(t, entriesFor(res, "tap", OutcomeRetry), 1)
	})

	t.Run("disabled", func(t *testing.T) {
		dev := &fakeDevice{screen: screen}
		cfg := testConfig()
		cfg.AutoVerificationEnabled = false
		res := newExecutor(t, dev, nil, cfg).Run(context.Background(), mustDecode(t, src))

		require.Equal(t, StateCompleted, res.State)
		assert.Equal(t, 1, dev.tapsAt(10, 10))
	})
}

func TestRun_VerifyActionKinds(t *testing.T) {
	screen := func(performed int) *model.Snapshot {
		if performed >= 1 {
			return screenWith("com.app.login", button(4, "Sign in", 540, 800))
		}
		return homeScreen()
	}
	rec := byPackage(map[string]model.PageState{"com.app": model.PageHome, "com.app.login": model.PageLogin})
	cases := []struct {
		name   string
		params map[string]any
	}{
		{"text change with target", map[string]any{"verify_type": "text_change", "expected_result": "Sign in"}},
		{"text change any", map[string]any{"verify_type": "text_change"}},
		{"page state to target", map[string]any{"verify_type": "page_state_change", "expected_result": "login"}},
		{"page state differs", map[string]any{"verify_type": "page_state_change"}},
		{"element exists", map[string]any{"verify_type": "element_exists", "expected_result": "Sign in"}},
		{"element disappears", map[string]any{"verify_type": "element_disappears", "expected_result": "Start"}},
		{"find block", map[string]any{"verify_type": "element_exists", "find": map[string]any{"match_method": "text", "target": "sign in"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &fakeDevice{screen: screen}
			e := newExecutor(t, dev, rec, testConfig())
			tc.params["timeout_ms"] = 500
			prog := mustParse(t,
				step("look", script.StepRecognizePage, nil),
				tapStep("go", 540, 900),
				step("check", script.StepVerifyAction, tc.params),
			)

			res := e.Run(context.Background(), prog)

			require.Equal(t, StateCompleted, res.State, describeLog(res))
			assert.Equal(t, model.PageLogin, res.FinalPageState)
		})
	}
}

func TestRun_VerifyTimeoutFails(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())

	res := e.Run(context.Background(), mustParse(t,
		step("check", script.StepVerifyAction, map[string]any{
			"verify_type": "element_exists", "expected_result": "Never", "timeout_ms": 10, "retry_count": 0,
		}),
	))

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Message, ErrVerificationTimeout.Error())
}

func TestRun_ChangeVerificationComparesWithScreenBeforeAction(t *testing.T) {
	rec := byPackage(map[string]model.PageState{"com.app": model.PageHome, "com.app.welcome": model.PageLogin})
	// The first action opens the welcome screen; later ones change nothing.
	welcome := func(performed int) *model.Snapshot {
		if performed >= 1 {
			return screenWith("com.app.welcome", button(4, "Welcome", 540, 900))
		}
		return homeScreen()
	}
	openThenNoop := func(verify map[string]any) []script.Step {
		return []script.Step{
			step("open", script.StepSmartTap, map[string]any{"target": "Start"}),
			step("noop", script.StepTap, map[string]any{"x": 5, "y": 5, "retry_count": 0, "verify": verify}),
		}
	}
	cases := []struct {
		name  string
		steps []script.Step
	}{
		{"text change", openThenNoop(map[string]any{"type": "text_change", "timeout_ms": 50})},
		{"page state change", openThenNoop(map[string]any{"type": "page_state_change", "timeout_ms": 50})},
		{"verify action step", []script.Step{
			step("open", script.StepSmartTap, map[string]any{"target": "Start"}),
			tapStep("noop", 5, 5),
			step("check", script.StepVerifyAction, map[string]any{"verify_type": "text_change", "timeout_ms": 50, "retry_count": 0}),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &fakeDevice{screen: welcome}
			res := newExecutor(t, dev, rec, testConfig()).Run(context.Background(), mustParse(t, tc.steps...))

			assert.Equal(t, StateFailed, res.State, describeLog(res))
			assert.Contains(t, res.Message, ErrVerificationTimeout.Error())
			assert.Equal(t, 1, dev.tapsAt(5, 5))
		})
	}

	t.Run("change after a noop step", func(t *testing.T) {
		dev := &fakeDevice{screen: func(performed int) *model.Snapshot {
			if performed >= 2 {
				return screenWith("com.app", button(4, "Welcome", 540, 900))
			}
			return homeScreen()
		}}
		res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
			tapStep("first", 1, 1),
			step("second", script.StepTap, map[string]any{"x": 5, "y": 5, "retry_count": 0,
				"verify": map[string]any{"type": "text_change", "timeout_ms": 500}}),
		))

		require.Equal(t, StateCompleted, res.State, describeLog(res))
	})
}

func TestRun_WaitForPageState(t *testing.T) {
	rec := byPackage(map[string]model.PageState{"com.app": model.PageHome, "com.app.login": model.PageLogin})
	screen := func(performed int) *model.Snapshot {
		if performed >= 1 {
			return screenWith("com.app.login")
		}
		return homeScreen()
	}

	t.Run("reached", func(t *testing.T) {
		dev := &fakeDevice{screen: screen}
		res := newExecutor(t, dev, rec, testConfig()).Run(context.Background(), mustParse(t,
			tapStep("go", 1, 1),
			step("wait", script.StepWaitForPageState, map[string]any{"expected_state": "login", "timeout_ms": 500, "check_interval_ms": 1}),
		))

		require.Equal(t, StateCompleted, res.State, describeLog(res))
		assert.Equal(t, model.PageLogin, res.FinalPageState)
	})

	t.Run("timeout", func(t *testing.T) {
		dev := &fakeDevice{screen: screen}
		res := newExecutor(t, dev, rec, testConfig()).Run(context.Background(), mustParse(t,
			step("wait", script.StepWaitForPageState, map[string]any{"expected_state": "settings", "timeout_ms": 10, "check_interval_ms": 1, "retry_count": 0}),
		))

		assert.Equal(t, StateFailed, res.State)
		assert.Contains(t, res.Message, ErrVerificationTimeout.Error())
	})
}

func TestRun_RecognizePage(t *testing.T) {
	rec := byPackage(map[string]model.PageState{"com.app": model.PageAppMain})

	t.Run("enabled", func(t *testing.T) {
		res := newExecutor(t, &fakeDevice{}, rec, testConfig()).Run(context.Background(), mustParse(t,
			step("look", script.StepRecognizePage, nil),
		))
		require.Equal(t, StateCompleted, res.State)
		ok := entriesFor(res, "look", OutcomeSuccess)
		require.Len(t, ok, 1)
		assert.Equal(t, "page is app_main_page", ok[0].Detail)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.PageRecognitionEnabled = false
		res := newExecutor(t, &fakeDevice{}, rec, cfg).Run(context.Background(), mustParse(t,
			step("look", script.StepRecognizePage, map[string]any{"expected_state": "login"}),
		))
		require.Equal(t, StateCompleted, res.State)
		ok := entriesFor(res, "look", OutcomeSuccess)
		require.Len(t, ok, 1)
		assert.Equal(t, "page recognition disabled", ok[0].Detail)
		assert.Equal(t, model.PageUnknown, res.FinalPageState)
	})
}

func TestRun_CompleteWorkflowSkipsRest(t *testing.T) {
	dev := &fakeDevice{}
	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
		tapStep("a", 1, 1),
		step("done", script.StepCompleteWorkflow, nil),
		tapStep("b", 2, 2),
	))

	assert.Equal(t, StateCompleted, res.State)
	assert.True(t, res.Success)
	assert.Equal(t, 0, dev.tapsAt(2, 2))
	assert.Equal(t, 1, res.SkippedSteps)
	assert.Len(t, entriesFor(res, "b", OutcomeSkip), 1)
}

func TestRun_DisabledStepsCountAsSkipped(t *testing.T) {
	off := false
	disabled := tapStep("off", 9, 9)
	disabled.Enabled = &off
	dev := &fakeDevice{}

	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t, tapStep("a", 1, 1), disabled))

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.TotalSteps)
	assert.Equal(t, 1, res.SkippedSteps)
	skips := entriesFor(res, "off", OutcomeSkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "disabled", skips[0].Detail)
}

func TestRun_InputWithTarget(t *testing.T) {
	dev := &fakeDevice{}
	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
		step("type", script.StepInput, map[string]any{"text": "hello", "target": "Start", "clear_before": true, "press_enter": true}),
	))

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	kinds := []platform.ActionKind{}
	for _, a := range dev.Actions() {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []platform.ActionKind{platform.ActionTap, platform.ActionClearText, platform.ActionInputText, platform.ActionKeyEvent}, kinds)
}

func TestRun_SwipeDirectionUsesScreenSize(t *testing.T) {
	dev := &fakeDevice{}
	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
		step("scroll", script.StepSwipe, map[string]any{"direction": "up"}),
	))

	require.Equal(t, StateCompleted, res.State)
	actions := dev.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, platform.Action{Kind: platform.ActionSwipe, X: 540, Y: 1440, X2: 540, Y2: 480, Duration: actions[0].Duration}, actions[0])
}

func TestRun_SmartNavigationLimitsToBar(t *testing.T) {
	dev := &fakeDevice{screen: func(int) *model.Snapshot {
		return screenWith("com.app",
			button(2, "Profile", 540, 400),
			button(3, "Profile", 900, 1850),
		)
	}}
	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
		step("nav", script.StepSmartNavigation, map[string]any{"button_name": "Profile", "click_action": "double_tap"}),
	))

	require.Equal(t, StateCompleted, res.State, describeLog(res))
	actions := dev.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, platform.ActionDoubleTap, actions[0].Kind)
	assert.Equal(t, 900, actions[0].X)
	assert.Equal(t, 1850, actions[0].Y)
}

func TestRun_ExtractOverwriteIsLogged(t *testing.T) {
	dev := &fakeDevice{}
	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
		step("x1", script.StepExtractElement, map[string]any{"target": "Start", "save_to_variable": "k"}),
		step("x2", script.StepExtractElement, map[string]any{"target": "Settings", "save_to_variable": "k"}),
	))

	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Settings", res.Extracted["k"].(map[string]any)["text"])
	info := entriesFor(res, "x2", OutcomeInfo)
	require.Len(t, info, 1)
	assert.Contains(t, info[0].Detail, `overwrote extracted key "k"`)
}

func TestRun_ExtractSameValueStillWarns(t *testing.T) {
	dev := &fakeDevice{}
	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t,
		step("x1", script.StepExtractElement, map[string]any{"target": "Start", "save_to_variable": "k"}),
		step("x2", script.StepExtractElement, map[string]any{"target": "Start", "save_to_variable": "k"}),
	))

	require.Equal(t, StateCompleted, res.State)
	assert.Len(t, entriesFor(res, "x2", OutcomeInfo), 1)
}

func TestRun_OverallTimeout(t *testing.T) {
	dev := &fakeDevice{}
	cfg := testConfig()
	cfg.OverallTimeoutMS = 30
	e := newExecutor(t, dev, nil, cfg)

	res := e.Run(context.Background(), mustParse(t,
		step("nap", script.StepWait, map[string]any{"duration_ms": 5000}),
		tapStep("a", 1, 1),
	))

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Message, ErrOverallTimeout.Error())
	assert.Equal(t, 0, dev.tapsAt(1, 1))
	assert.Equal(t, 2, res.SkippedSteps)
}

func TestRun_PanicBecomesFailedResult(t *testing.T) {
	dev := &fakeDevice{onPerform: func(platform.Action) { panic("boom") }}

	res := newExecutor(t, dev, nil, testConfig()).Run(context.Background(), mustParse(t, tapStep("a", 1, 1)))

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Message, "boom")
}

func TestRun_ObserversAndSubscribers(t *testing.T) {
	var seen []LogEntry
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig(), WithObserver(func(e LogEntry) { seen = append(seen, e) }))

	run := e.Start(context.Background(), mustParse(t, tapStep("a", 1, 1), tapStep("b", 2, 2)))
	res := run.Wait()

	assert.Equal(t, res.Log, seen)
	var replayed []LogEntry
	run.Subscribe(func(e LogEntry) { replayed = append(replayed, e) })
	assert.Equal(t, res.Log, replayed)
	for i, e := range res.Log {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, run.ID, e.RunID)
	}
}

func TestRun_SubscriberMayReadHistory(t *testing.T) {
	dev := &fakeDevice{}
	run := newExecutor(t, dev, nil, testConfig()).Start(context.Background(), mustParse(t, tapStep("a", 1, 1)))
	res := run.Wait()

	var sizes []int
	run.Subscribe(func(LogEntry) { sizes = append(sizes, len(run.History())) })

	require.Len(t, sizes, len(res.Log))
	for _, n := range sizes {
		assert.Equal(t, len(res.Log), n)
	}
}

func TestRun_ArtifactsOnFailure(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 108, 192))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	dir := t.TempDir()
	cfg := testConfig()
	cfg.ScreenshotOnFail = true
	cfg.ArtifactsDir = dir
	dev := &fakeDevice{}
	p := &platform.Provider{Device: dev, Matcher: newStubMatcher(), Recognizer: &fakeRecognizer{}, Screenshotter: &fakeScreenshotter{png: buf.Bytes()}}
	e, err := New(p, cfg)
	require.NoError(t, err)

	res := e.Run(context.Background(), mustParse(t,
		step("go", script.StepSmartTap, map[string]any{"target": "Nowhere", "retry_count": 0}),
	))

	require.Equal(t, StateFailed, res.State)
	require.Len(t, res.Artifacts, 2)
	for _, path := range res.Artifacts {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestRun_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig(), WithTracerProvider(tp))

	res := e.Run(context.Background(), mustParse(t, tapStep("a", 1, 1), tapStep("b", 2, 2)))
	require.Equal(t, StateCompleted, res.State)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "smartscript.step", spans[0].Name())
	assert.Equal(t, "smartscript.run", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestRunStep(t *testing.T) {
	dev := &fakeDevice{}
	e := newExecutor(t, dev, nil, testConfig())

	res, err := e.RunStep(context.Background(), tapStep("a", 3, 4))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 1, dev.tapsAt(3, 4))

	_, err = e.RunStep(context.Background(), step("s", script.StepLoopStart, nil))
	assert.Error(t, err)

	_, err = e.RunStep(context.Background(), step("bad", script.StepTap, nil))
	assert.True(t, script.IsParseError(err))
}

func TestNew_RejectsIncompleteProvider(t *testing.T) {
	_, err := New(&platform.Provider{Device: &fakeDevice{}}, DefaultConfig())
	assert.ErrorContains(t, err, "matcher")

	cfg := DefaultConfig()
	cfg.DefaultRetryCount = -1
	_, err = New(&platform.Provider{Device: &fakeDevice{}, Matcher: newStubMatcher(), Recognizer: &fakeRecognizer{}}, cfg)
	assert.Error(t, err)
}

// stubMatcher returns a fixed candidate list when the value is known.
type stubMatcher struct {
	known map[string][]model.Match
}

func newStubMatcher() *stubMatcher {
	return &stubMatcher{known: map[string][]model.Match{}}
}

func (m *stubMatcher) Find(_ context.Context, _ *model.Snapshot, cond model.FindCondition) ([]model.Match, error) {
	if cond.Value == "" {
		return nil, errors.New("empty condition")
	}
	return m.known[cond.Value], nil
}
