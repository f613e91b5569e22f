package server

import (
	"sort"
	"sync"
	"time"

	"github.com/mj1618/smartscript/internal/engine"
)

// registryEntry holds a run with its bookkeeping timestamps.
type registryEntry struct {
	run      *engine.Run
	name     string
	started  time.Time
	finished time.Time
}

// RunSummary is the listing form of a registered run.
type RunSummary struct {
	RunID   string       `yaml:"run_id"         json:"run_id"`
	Name    string       `yaml:"name,omitempty" json:"name,omitempty"`
	State   engine.State `yaml:"state"          json:"state"`
	Started time.Time    `yaml:"started"        json:"started"`
}

// Registry tracks runs started through the server. Finished runs are
// evicted once they are older than the retention period. A retention of 0
// keeps them forever.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add registers a run.
func (r *Registry) Add(run *engine.Run, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.entries[run.ID] = &registryEntry{run: run, name: name, started: r.now()}
}

// Get returns the run with the given id.
func (r *Registry) Get(id string) (*engine.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.run, true
}

// Active returns a run that has not finished yet, if any.
func (r *Registry) Active() (*engine.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if !e.run.State().Terminal() {
			return e.run, true
		}
	}
	return nil, false
}

// List returns the registered runs, oldest first.
func (r *Registry) List() []RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	out := make([]RunSummary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, RunSummary{RunID: e.run.ID, Name: e.name, State: e.run.State(), Started: e.started})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// evictLocked stamps newly finished runs and drops expired ones.
func (r *Registry) evictLocked() {
	if r.ttl == 0 {
		return
	}
	now := r.now()
	for id, e := range r.entries {
		if !e.run.State().Terminal() {
			continue
		}
		if e.finished.IsZero() {
			e.finished = now
			continue
		}
		if now.Sub(e.finished) >= r.ttl {
			delete(r.entries, id)
		}
	}
}
