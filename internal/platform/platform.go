package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mj1618/smartscript/internal/model"
)

// Failure modes of a device channel.
var (
	ErrDeviceUnreachable = errors.New("device unreachable")
	ErrCommandRejected   = errors.New("command rejected")
	ErrTimeout           = errors.New("device command timed out")
)

// ActionKind enumerates the primitive inputs a device channel can perform.
type ActionKind string

const (
	ActionTap       ActionKind = "tap"
	ActionDoubleTap ActionKind = "double_tap"
	ActionLongPress ActionKind = "long_press"
	ActionSwipe     ActionKind = "swipe"
	ActionInputText ActionKind = "input_text"
	ActionClearText ActionKind = "clear_text"
	ActionKeyEvent  ActionKind = "key_event"
)

// Action is a single primitive device input.
type Action struct {
	Kind     ActionKind
	X, Y     int
	X2, Y2   int // swipe end point
	Duration time.Duration
	Text     string
	Key      string // key name (enter, back, home, del) or KEYCODE_* / numeric code
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSwipe:
		return fmt.Sprintf("swipe (%d,%d)->(%d,%d) %s", a.X, a.Y, a.X2, a.Y2, a.Duration)
	case ActionInputText:
		return fmt.Sprintf("input %q", a.Text)
	case ActionKeyEvent:
		return "key " + a.Key
	case ActionClearText:
		return "clear text"
	default:
		return fmt.Sprintf("%s (%d,%d)", a.Kind, a.X, a.Y)
	}
}

// ActionOutcome describes what a device channel did for an action.
type ActionOutcome struct {
	Commands []string      `yaml:"commands,omitempty" json:"commands,omitempty"`
	Output   string        `yaml:"output,omitempty"   json:"output,omitempty"`
	Elapsed  time.Duration `yaml:"elapsed"            json:"elapsed"`
}

// DeviceChannel executes primitive actions on a device and captures its UI
// hierarchy. Implementations return errors wrapping ErrDeviceUnreachable,
// ErrCommandRejected or ErrTimeout.
type DeviceChannel interface {
	Perform(ctx context.Context, action Action) (ActionOutcome, error)
	CaptureSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// Screenshotter captures a PNG screenshot of the device screen.
type Screenshotter interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// ElementMatcher locates elements in a snapshot. Results are ranked best
// first and may be empty.
type ElementMatcher interface {
	Find(ctx context.Context, snap *model.Snapshot, cond model.FindCondition) ([]model.Match, error)
}

// PageRecognizer classifies a snapshot into a page state.
type PageRecognizer interface {
	Classify(ctx context.Context, snap *model.Snapshot) (model.PageState, error)
}
