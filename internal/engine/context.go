package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/script"
)

// Outcome is the result recorded for one log entry.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFail        Outcome = "fail"
	OutcomeSkip        Outcome = "skip"
	OutcomeRetry       Outcome = "retry"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeInfo        Outcome = "info"
)

// LogEntry is one append-only record of a run.
type LogEntry struct {
	Seq     int             `yaml:"seq"               json:"seq"`
	RunID   string          `yaml:"run_id,omitempty"  json:"run_id,omitempty"`
	StepID  string          `yaml:"step_id"           json:"step_id"`
	Type    script.StepType `yaml:"type,omitempty"    json:"type,omitempty"`
	Outcome Outcome         `yaml:"outcome"           json:"outcome"`
	At      time.Duration   `yaml:"at"                json:"at"`
	Attempt int             `yaml:"attempt,omitempty" json:"attempt,omitempty"`
	Detail  string          `yaml:"detail,omitempty"  json:"detail,omitempty"`
}

func (e LogEntry) String() string {
	s := fmt.Sprintf("[%8s] %-11s %s", e.At.Round(time.Millisecond), e.Outcome, e.StepID)
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

// loopFrame is the live counter of one entered loop region.
type loopFrame struct {
	entry     script.LoopEntry
	params    script.LoopStartParams
	count     int
	limit     int // iterations to run; 0 for infinite loops without a guard
	startPage model.PageState
}

// ExecutionContext is the mutable state of a single run. It is owned by
// the run goroutine and never shared.
type ExecutionContext struct {
	runID  string
	start  time.Time
	logger *slog.Logger
	notify func(LogEntry)

	Cursor    int
	PageState model.PageState
	Snapshot  *model.Snapshot

	loops     []loopFrame
	extracted map[string]any
	visited   map[string]bool
	log       []LogEntry

	// State captured before the most recent device action, the baseline
	// for change verifications.
	baseline      *model.Snapshot
	baselinePage  model.PageState
	snapshotStale bool
	pageStale     bool
	lastMatches   []model.Match

	executed int
	failed   int
}

func newExecutionContext(runID string, logger *slog.Logger, notify func(LogEntry)) *ExecutionContext {
	return &ExecutionContext{
		runID:     runID,
		start:     time.Now(),
		logger:    logger,
		notify:    notify,
		PageState: model.PageUnknown,
		extracted: map[string]any{},
		visited:   map[string]bool{},
		pageStale: true,
	}
}

// record appends a log entry and publishes it.
func (c *ExecutionContext) record(in *script.Instruction, stepID string, outcome Outcome, attempt int, detail string) LogEntry {
	e := LogEntry{
		Seq:     len(c.log) + 1,
		RunID:   c.runID,
		StepID:  stepID,
		Outcome: outcome,
		At:      time.Since(c.start),
		Attempt: attempt,
		Detail:  detail,
	}
	if in != nil {
		e.Type = in.Type()
		if stepID == "" {
			e.StepID = in.ID()
		}
	}
	c.log = append(c.log, e)
	if c.notify != nil {
		c.notify(e)
	}
	return e
}

// Log returns a copy of the entries recorded so far.
func (c *ExecutionContext) Log() []LogEntry {
	out := make([]LogEntry, len(c.log))
	copy(out, c.log)
	return out
}

// Extracted returns a copy of the extracted-data map.
func (c *ExecutionContext) Extracted() map[string]any {
	out := make(map[string]any, len(c.extracted))
	for k, v := range c.extracted {
		out[k] = v
	}
	return out
}

// Value returns an extracted value.
func (c *ExecutionContext) Value(key string) (any, bool) {
	v, ok := c.extracted[key]
	return v, ok
}

// setExtracted stores a value. The last write wins; overwriting an existing
// key is logged as a warning.
func (c *ExecutionContext) setExtracted(stepID, key string, v any) {
	if _, ok := c.extracted[key]; ok {
		c.logger.Warn("extracted key overwritten", "step", stepID, "key", key)
		c.record(nil, stepID, OutcomeInfo, 0, fmt.Sprintf("overwrote extracted key %q", key))
	}
	c.extracted[key] = v
}

func (c *ExecutionContext) pushLoop(f loopFrame) {
	c.loops = append(c.loops, f)
}

// topLoop returns the innermost frame when it belongs to the region that
// starts at start.
func (c *ExecutionContext) topLoop(start int) *loopFrame {
	if len(c.loops) == 0 {
		return nil
	}
	f := &c.loops[len(c.loops)-1]
	if f.entry.Start != start {
		return nil
	}
	return f
}

func (c *ExecutionContext) popLoop() {
	c.loops = c.loops[:len(c.loops)-1]
}

// leaveLoopsFor pops every frame whose region does not contain target.
func (c *ExecutionContext) leaveLoopsFor(target int) []string {
	var left []string
	for len(c.loops) > 0 {
		f := c.loops[len(c.loops)-1]
		if f.entry.Contains(target) {
			break
		}
		left = append(left, f.entry.LoopID)
		c.popLoop()
	}
	return left
}

// LoopDepth is the number of loop regions currently entered.
func (c *ExecutionContext) LoopDepth() int { return len(c.loops) }

func (c *ExecutionContext) visit(id string) { c.visited[id] = true }

// VisitedSteps returns the ids of steps that have run, in sorted order.
func (c *ExecutionContext) VisitedSteps() []string {
	ids := make([]string, 0, len(c.visited))
	for id := range c.visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// setSnapshot records a fresh capture.
func (c *ExecutionContext) setSnapshot(s *model.Snapshot) {
	c.Snapshot = s
	c.snapshotStale = false
}

// markBaseline takes the current snapshot and page state as the state
// before the next action.
func (c *ExecutionContext) markBaseline() {
	c.baseline = c.Snapshot
	c.baselinePage = c.PageState
}

// actionPerformed marks device state as changed by an input.
func (c *ExecutionContext) actionPerformed(before *model.Snapshot) {
	c.baseline = before
	c.baselinePage = c.PageState
	c.snapshotStale = true
	c.pageStale = true
}
