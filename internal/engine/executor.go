// Package engine runs parsed scripts against a device.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mj1618/smartscript/internal/platform"
	"github.com/mj1618/smartscript/internal/script"
)

const tracerName = "github.com/mj1618/smartscript/internal/engine"

// Executor runs programs against one Provider.
type Executor struct {
	provider  *platform.Provider
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []func(LogEntry)
	newID     func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers fn for every log entry of every run. Observers are
// called synchronously from the run goroutine.
func WithObserver(fn func(LogEntry)) Option {
	return func(e *Executor) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// WithTracerProvider sets where run and step spans go. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// New returns an Executor for p.
func New(p *platform.Provider, cfg Config, opts ...Option) (*Executor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Executor{
		provider: p,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the executor's settings.
func (e *Executor) Config() Config { return e.cfg }

// Start runs prog in a new goroutine and returns its handle. Cancelling ctx
// aborts collaborator calls in flight; Run.Cancel stops between steps.
func (e *Executor) Start(ctx context.Context, prog *script.Program) *Run {
	run := newRun(e.newID())
	run.setState(StateRunning)
	go func() {
		run.finish(e.execute(ctx, prog, run))
	}()
	return run
}

// Run executes prog and blocks until it ends.
func (e *Executor) Run(ctx context.Context, prog *script.Program) *Result {
	return e.Start(ctx, prog).Wait()
}

// RunStep validates and executes a single step. Loop and branch steps have
// nothing to pair with and are rejected.
func (e *Executor) RunStep(ctx context.Context, st script.Step) (*Result, error) {
	switch st.Type {
	case script.StepLoopStart, script.StepLoopEnd, script.StepConditionalAction:
		return nil, fmt.Errorf("step %q: %s cannot run on its own", st.ID, st.Type)
	}
	enabled := true
	st.Enabled = &enabled
	prog, err := script.Parse([]script.Step{st})
	if err != nil {
		return nil, err
	}
	prog.Name = st.Label()
	return e.Run(ctx, prog), nil
}

// halt ends the main loop.
type halt struct {
	state   State
	message string
	// interrupted is set when the step at the cursor did not complete.
	interrupted bool
}

// runner holds the state of one execution.
type runner struct {
	e      *Executor
	cfg    Config
	p      *platform.Provider
	prog   *script.Program
	run    *Run
	ec     *ExecutionContext
	logger *slog.Logger

	ctx       context.Context
	fatal     bool
	artifacts []string
}

func (e *Executor) execute(ctx context.Context, prog *script.Program, run *Run) (res *Result) {
	ctx, span := e.tracer.Start(ctx, "smartscript.run", trace.WithAttributes(
		attribute.String("smartscript.run.id", run.ID),
		attribute.String("smartscript.script.name", prog.Name),
		attribute.Int("smartscript.script.steps", prog.Total),
	))
	defer span.End()

	logger := e.logger.With("run", run.ID)
	r := &runner{
		e:      e,
		cfg:    e.cfg,
		p:      e.provider,
		prog:   prog,
		run:    run,
		logger: logger,
	}
	r.ec = newExecutionContext(run.ID, logger, func(entry LogEntry) {
		for _, fn := range e.observers {
			fn(entry)
		}
		run.publish(entry)
	})

	if d := ms(e.cfg.OverallTimeoutMS); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, ErrOverallTimeout)
		defer cancel()
	}
	r.ctx = ctx

	logger.Info("run started", "script", prog.Name, "steps", prog.Total)
	h := func() (h halt) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("run panicked", "panic", p)
				h = halt{state: StateFailed, message: fmt.Sprintf("internal error: %v", p)}
			}
		}()
		for _, st := range prog.Disabled {
			r.ec.record(&script.Instruction{Step: st}, "", OutcomeSkip, 0, "disabled")
		}
		return r.loop()
	}()

	res = r.result(h)
	span.SetAttributes(
		attribute.String("smartscript.run.state", string(res.State)),
		attribute.Int("smartscript.run.executed", res.ExecutedSteps),
		attribute.Int("smartscript.run.failed", res.FailedSteps),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	logger.Info("run finished", "state", res.State, "executed", res.ExecutedSteps,
		"failed", res.FailedSteps, "skipped", res.SkippedSteps, "duration", res.Duration)
	return res
}

// loop drives the cursor until the program ends or something halts it.
func (r *runner) loop() halt {
	ins := r.prog.Instructions
	for r.ec.Cursor < len(ins) {
		in := &ins[r.ec.Cursor]
		if h, stop := r.checkStop(in); stop {
			return h
		}
		next, h := r.step(in)
		if h != nil {
			return *h
		}
		r.ec.Cursor = next
		if d := ms(r.cfg.StepDelayMS); d > 0 && next < len(ins) {
			_ = sleep(r.ctx, d)
		}
	}
	return halt{state: StateCompleted}
}

// checkStop reports a cancellation or timeout observed before in runs.
func (r *runner) checkStop(in *script.Instruction) (halt, bool) {
	if r.run.cancelRequested() {
		r.ec.record(in, "", OutcomeInterrupted, 0, "cancellation requested")
		return halt{state: StateCancelled, message: fmt.Sprintf("%v before step %q", ErrCancelled, in.ID()), interrupted: true}, true
	}
	if err := r.ctx.Err(); err != nil {
		r.ec.record(in, "", OutcomeInterrupted, 0, context.Cause(r.ctx).Error())
		if errors.Is(context.Cause(r.ctx), ErrOverallTimeout) {
			return halt{state: StateFailed, message: fmt.Sprintf("%v (%s) before step %q", ErrOverallTimeout, ms(r.cfg.OverallTimeoutMS), in.ID()), interrupted: true}, true
		}
		return halt{state: StateCancelled, message: fmt.Sprintf("%v: %v", ErrCancelled, err), interrupted: true}, true
	}
	return halt{}, false
}

// step executes the instruction at the cursor and returns the next position.
func (r *runner) step(in *script.Instruction) (int, *halt) {
	pos := r.ec.Cursor
	ctx, span := r.e.tracer.Start(r.ctx, "smartscript.step", trace.WithAttributes(
		attribute.String("smartscript.step.id", in.ID()),
		attribute.String("smartscript.step.type", string(in.Type())),
		attribute.Int("smartscript.step.position", pos),
	))
	defer span.End()

	r.ec.visit(in.ID())
	if r.cfg.DetailedLogging {
		r.logger.Debug("step", "id", in.ID(), "type", in.Type(), "position", pos, "loop_depth", r.ec.LoopDepth())
	}

	switch p := in.Params.(type) {
	case script.LoopStartParams:
		return r.loopStart(ctx, pos, in, p), nil
	case script.LoopEndParams:
		return r.loopEnd(ctx, pos, in)
	case script.ConditionalParams:
		return r.conditional(ctx, in, p), nil
	case script.CompleteParams:
		r.ec.executed++
		r.ec.record(in, "", OutcomeSuccess, 0, "workflow complete")
		return pos, &halt{state: StateCompleted, message: fmt.Sprintf("completed by step %q", in.ID())}
	}

	action := r.actionFor(in)
	detail, err := r.attempt(ctx, in, action)
	if err == nil {
		r.ec.executed++
		r.ec.record(in, "", OutcomeSuccess, 0, detail)
		return pos + 1, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return r.fail(ctx, pos, in, action, err)
}

// attempt runs action under the step's retry policy.
func (r *runner) attempt(ctx context.Context, in *script.Instruction, action stepAction) (string, error) {
	policy := in.Retry.WithDefaults(r.cfg.retryDefaults())
	attempts := policy.Attempts()
	var detail string
	err := pollUntil(ctx, policy.Interval, policy.Timeout, attempts, func(ctx context.Context, n int) error {
		d, err := r.once(ctx, in, action)
		if err != nil {
			if n < attempts && !isPermanent(err) && ctx.Err() == nil {
				r.ec.record(in, "", OutcomeRetry, n, fmt.Sprintf("attempt %d/%d: %v", n, attempts, err))
			}
			return err
		}
		detail = d
		return nil
	})
	if errors.Is(err, errPollTimeout) {
		err = fmt.Errorf("step timeout: %w", err)
	}
	return detail, err
}

// once runs action a single time, then its verification when enabled.
func (r *runner) once(ctx context.Context, in *script.Instruction, action stepAction) (string, error) {
	verifying := in.Verify != nil && r.cfg.AutoVerificationEnabled
	if spec, ok := r.pendingChangeCheck(in, verifying); ok {
		if err := r.freshBaseline(ctx, spec); err != nil {
			return "", err
		}
	}
	detail, err := action(ctx)
	if err != nil {
		return "", err
	}
	if verifying {
		if err := r.verify(ctx, *in.Verify); err != nil {
			return "", err
		}
		detail = joinDetail(detail, "verified "+in.Verify.String())
	}
	return detail, nil
}

// fail handles a step whose attempts are exhausted.
func (r *runner) fail(ctx context.Context, pos int, in *script.Instruction, action stepAction, err error) (int, *halt) {
	if h := r.interrupted(in, err); h != nil {
		return pos, h
	}
	if !isFatal(err) && r.cfg.SmartRecoveryEnabled && len(in.Fallbacks) > 0 && recoverable(in.Type(), err) {
		r.logger.Info("trying fallback actions", "step", in.ID(), "count", len(in.Fallbacks), "error", err)
		r.runFallbacks(ctx, in)
		detail, ferr := r.once(ctx, in, action)
		if ferr == nil {
			r.ec.executed++
			r.ec.record(in, "", OutcomeSuccess, 0, joinDetail("recovered by fallback", detail))
			return pos + 1, nil
		}
		if h := r.interrupted(in, ferr); h != nil {
			return pos, h
		}
		err = ferr
	}

	r.ec.failed++
	r.ec.record(in, "", OutcomeFail, 0, err.Error())
	r.logger.Warn("step failed", "step", in.ID(), "type", in.Type(), "error", err)
	r.fatal = isFatal(err)
	r.saveArtifacts(in)

	serr := &StepError{StepID: in.ID(), Kind: in.Type(), Err: err}
	if r.fatal {
		return pos, &halt{state: StateFailed, message: serr.Error()}
	}
	if r.cfg.ContinueOnError {
		return pos + 1, nil
	}
	return pos, &halt{state: StateFailed, message: serr.Error()}
}

// interrupted maps a failure caused by the run's own context ending.
func (r *runner) interrupted(in *script.Instruction, err error) *halt {
	if r.ctx.Err() == nil || isFatal(err) {
		return nil
	}
	cause := context.Cause(r.ctx)
	r.ec.record(in, "", OutcomeInterrupted, 0, cause.Error())
	if errors.Is(cause, ErrOverallTimeout) {
		return &halt{state: StateFailed, message: fmt.Sprintf("%v (%s) in step %q", ErrOverallTimeout, ms(r.cfg.OverallTimeoutMS), in.ID()), interrupted: true}
	}
	return &halt{state: StateCancelled, message: fmt.Sprintf("%v: %v", ErrCancelled, cause), interrupted: true}
}

// runFallbacks executes each fallback once. Failures are logged and ignored.
func (r *runner) runFallbacks(ctx context.Context, in *script.Instruction) {
	for i := range in.Fallbacks {
		fb := &in.Fallbacks[i]
		detail, err := r.actionFor(fb)(ctx)
		if err != nil {
			r.ec.record(fb, "", OutcomeFail, 0, "fallback: "+err.Error())
			continue
		}
		r.ec.record(fb, "", OutcomeInfo, 0, joinDetail("fallback", detail))
	}
}

// skipRemaining logs a skip for every step after the halt position and
// for earlier steps that never ran. An interrupted step at the halt
// position counts as skipped without a second entry.
func (r *runner) skipRemaining(h halt) int {
	ins := r.prog.Instructions
	at := r.ec.Cursor
	skipped := len(r.prog.Disabled)
	for i := range ins {
		switch {
		case i == at && h.interrupted:
			skipped++
		case i > at, i < at && !r.ec.visited[ins[i].ID()]:
			r.ec.record(&ins[i], "", OutcomeSkip, 0, "not reached")
			skipped++
		}
	}
	return skipped
}

// result assembles the Result once the loop has stopped.
func (r *runner) result(h halt) *Result {
	skipped := r.skipRemaining(h)

	final := r.ec.PageState
	if r.cfg.PageRecognitionEnabled && !r.fatal {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.cfg.defaultTimeout())
		if snap, err := r.p.Device.CaptureSnapshot(ctx); err == nil {
			if state, err := r.p.Recognizer.Classify(ctx, snap); err == nil {
				final = state
			}
		}
		cancel()
	}

	msg := h.message
	if msg == "" && h.state == StateCompleted && r.ec.failed > 0 {
		msg = fmt.Sprintf("completed with %d failed step(s)", r.ec.failed)
	}
	return &Result{
		RunID:          r.run.ID,
		Name:           r.prog.Name,
		State:          h.state,
		Success:        h.state == StateCompleted && r.ec.failed == 0,
		TotalSteps:     r.prog.Total,
		ExecutedSteps:  r.ec.executed,
		FailedSteps:    r.ec.failed,
		SkippedSteps:   skipped,
		Duration:       time.Since(r.ec.start),
		FinalPageState: final,
		Extracted:      r.ec.Extracted(),
		Message:        msg,
		Artifacts:      r.artifacts,
		Log:            r.ec.Log(),
	}
}

func joinDetail(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}
