package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mj1618/smartscript/internal/matcher"
	"github.com/mj1618/smartscript/internal/model"
	"github.com/mj1618/smartscript/internal/platform"
	"github.com/mj1618/smartscript/internal/script"
	"github.com/stretchr/testify/require"
)

// fakeDevice records actions and serves snapshots chosen by the number of
// actions performed so far.
type fakeDevice struct {
	mu       sync.Mutex
	actions  []platform.Action
	captures int

	screen     func(performed int) *model.Snapshot
	performErr func(a platform.Action) error
	captureErr error
	onPerform  func(a platform.Action)
}

func (d *fakeDevice) Perform(_ context.Context, a platform.Action) (platform.ActionOutcome, error) {
	if d.onPerform != nil {
		d.onPerform(a)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.performErr != nil {
		if err := d.performErr(a); err != nil {
			return platform.ActionOutcome{}, err
		}
	}
	d.actions = append(d.actions, a)
	return platform.ActionOutcome{Commands: []string{a.String()}}, nil
}

func (d *fakeDevice) CaptureSnapshot(context.Context) (*model.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captures++
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	if d.screen == nil {
		return homeScreen(), nil
	}
	return d.screen(len(d.actions)), nil
}

func (d *fakeDevice) Actions() []platform.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]platform.Action, len(d.actions))
	copy(out, d.actions)
	return out
}

// tapsAt counts taps on (x, y).
func (d *fakeDevice) tapsAt(x, y int) int {
	n := 0
	for _, a := range d.Actions() {
		if a.Kind == platform.ActionTap && a.X == x && a.Y == y {
			n++
		}
	}
	return n
}

// fakeRecognizer maps snapshots to states through a function.
type fakeRecognizer struct {
	classify func(snap *model.Snapshot) model.PageState
}

func (r *fakeRecognizer) Classify(_ context.Context, snap *model.Snapshot) (model.PageState, error) {
	if r.classify == nil {
		return model.PageHome, nil
	}
	return r.classify(snap), nil
}

// byPackage classifies a snapshot by its package name.
func byPackage(states map[string]model.PageState) *fakeRecognizer {
	return &fakeRecognizer{classify: func(snap *model.Snapshot) model.PageState {
		if s, ok := states[snap.Package]; ok {
			return s
		}
		return model.PageUnknown
	}}
}

type fakeScreenshotter struct {
	png []byte
}

func (s *fakeScreenshotter) CaptureScreenshot(context.Context) ([]byte, error) {
	return s.png, nil
}

func screenWith(pkg string, children ...model.Element) *model.Snapshot {
	snap := model.NewSnapshot([]model.Element{
		{ID: 1, Role: "group", Class: "android.widget.FrameLayout", Bounds: [4]int{0, 0, 1080, 1920}, Children: children},
	})
	snap.Package = pkg
	return snap
}

func button(id int, text string, x, y int) model.Element {
	return model.Element{ID: id, Role: "btn", Class: "android.widget.Button", Text: text, Clickable: true, Bounds: [4]int{x - 50, y - 25, 100, 50}}
}

func homeScreen() *model.Snapshot {
	return screenWith("com.app",
		button(2, "Start", 540, 900),
		button(3, "Settings", 540, 1100),
	)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultRetryIntervalMS = 1
	cfg.VerifyIntervalMS = 1
	cfg.DefaultTimeoutMS = 2000
	return cfg
}

func newExecutor(t *testing.T, dev *fakeDevice, rec platform.PageRecognizer, cfg Config, opts ...Option) *Executor {
	t.Helper()
	if rec == nil {
		rec = &fakeRecognizer{}
	}
	p := &platform.Provider{Device: dev, Matcher: matcher.New(), Recognizer: rec}
	e, err := New(p, cfg, opts...)
	require.NoError(t, err)
	return e
}

func mustParse(t *testing.T, steps ...script.Step) *script.Program {
	t.Helper()
	prog, err := script.Parse(steps)
	require.NoError(t, err)
	return prog
}

func mustDecode(t *testing.T, src string) *script.Program {
	t.Helper()
	doc, err := script.Decode([]byte(src))
	require.NoError(t, err)
	prog, err := doc.Program()
	require.NoError(t, err)
	return prog
}

func step(id string, kind script.StepType, params map[string]any) script.Step {
	return script.Step{ID: id, Type: kind, Parameters: params}
}

func tapStep(id string, x, y int) script.Step {
	return step(id, script.StepTap, map[string]any{"x": x, "y": y})
}

func entriesFor(res *Result, stepID string, outcome Outcome) []LogEntry {
	var out []LogEntry
	for _, e := range res.Log {
		if e.StepID == stepID && e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

func describeLog(res *Result) string {
	s := ""
	for _, e := range res.Log {
		s += fmt.Sprintln(e.String())
	}
	return s
}
