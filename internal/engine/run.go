package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mj1618/smartscript/internal/model"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Result is the durable output of a run.
type Result struct {
	RunID          string          `yaml:"run_id"                json:"run_id"`
	Name           string          `yaml:"name,omitempty"        json:"name,omitempty"`
	State          State           `yaml:"state"                 json:"state"`
	Success        bool            `yaml:"success"               json:"success"`
	TotalSteps     int             `yaml:"total_steps"           json:"total_steps"`
	ExecutedSteps  int             `yaml:"executed_steps"        json:"executed_steps"`
	FailedSteps    int             `yaml:"failed_steps"          json:"failed_steps"`
	SkippedSteps   int             `yaml:"skipped_steps"         json:"skipped_steps"`
	Duration       time.Duration   `yaml:"duration"              json:"duration"`
	FinalPageState model.PageState `yaml:"final_page_state"      json:"final_page_state"`
	Extracted      map[string]any  `yaml:"extracted,omitempty"   json:"extracted,omitempty"`
	Message        string          `yaml:"message,omitempty"     json:"message,omitempty"`
	Artifacts      []string        `yaml:"artifacts,omitempty"   json:"artifacts,omitempty"`
	Log            []LogEntry      `yaml:"log"                   json:"log"`
}

// Run is a handle on an executing program.
type Run struct {
	ID string

	state      atomic.Value // State
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	result     *Result

	mu      sync.Mutex
	history []LogEntry
	subs    []*subscriber
}

func newRun(id string) *Run {
	r := &Run{
		ID:     id,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.state.Store(StateIdle)
	return r
}

// State returns the current lifecycle state. Safe for concurrent use.
func (r *Run) State() State {
	return r.state.Load().(State)
}

func (r *Run) setState(s State) {
	r.state.Store(s)
}

// Cancel requests cooperative cancellation. The step in flight finishes;
// the run stops before the next one.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

func (r *Run) cancelRequested() bool {
	select {
	case <-r.cancel:
		return true
	default:
		return false
	}
}

// Done is closed once the result is available.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() *Result {
	<-r.done
	return r.result
}

// Subscribe calls fn for every log entry recorded so far and then for each
// new one. fn runs on the run goroutine and must not block for long.
func (r *Run) Subscribe(fn func(LogEntry)) {
	s := &subscriber{fn: fn}
	// Held until the backlog is replayed so new entries queue behind it.
	s.mu.Lock()
	defer s.mu.Unlock()
	r.mu.Lock()
	backlog := make([]LogEntry, len(r.history))
	copy(backlog, r.history)
	r.subs = append(r.subs, s)
	r.mu.Unlock()
	for _, e := range backlog {
		fn(e)
	}
}

// subscriber serializes deliveries to one callback.
type subscriber struct {
	mu sync.Mutex
	fn func(LogEntry)
}

func (s *subscriber) deliver(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn(e)
}

// History returns the entries published so far.
func (r *Run) History() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Run) publish(e LogEntry) {
	r.mu.Lock()
	r.history = append(r.history, e)
	subs := make([]*subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()
	for _, s := range subs {
		s.deliver(e)
	}
}

func (r *Run) finish(res *Result) {
	r.result = res
	r.setState(res.State)
	close(r.done)
}
