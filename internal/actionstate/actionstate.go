// Package actionstate guards resources against overlapping operations.
//
// Each resource id owns a flag-set. Claiming a flag is a non-blocking
// check-and-set: a second caller fails with a *domain.BusyError instead of
// waiting. The returned Guard resets the flags when released.
package actionstate

import (
	"sync"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// StackActionState has one flag per in-flight stack operation.
type StackActionState struct {
	Deploying  bool `json:"deploying"`
	Pulling    bool `json:"pulling"`
	Starting   bool `json:"starting"`
	Restarting bool `json:"restarting"`
	Pausing    bool `json:"pausing"`
	Unpausing  bool `json:"unpausing"`
	Stopping   bool `json:"stopping"`
	Destroying bool `json:"destroying"`
}

// Busy reports whether any flag is set.
func (s StackActionState) Busy() bool {
	return s.Active() != ""
}

// Active returns the name of the first set flag, or "".
func (s StackActionState) Active() string {
	switch {
	case s.Deploying:
		return "deploying"
	case s.Pulling:
		return "pulling"
	case s.Starting:
		return "starting"
	case s.Restarting:
		return "restarting"
	case s.Pausing:
		return "pausing"
	case s.Unpausing:
		return "unpausing"
	case s.Stopping:
		return "stopping"
	case s.Destroying:
		return "destroying"
	}
	return ""
}

type entry struct {
	mu      sync.Mutex
	state   StackActionState
	evicted bool
}

// Registry maps resource ids to their action state. The registry lock only
// guards the map; each entry has its own lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) getOrInsert(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e
	}
	e := &entry{}
	r.entries[id] = e
	return e
}

// Acquire claims flags on id. claim must set the caller's own flag. If any
// flag is already set the state is left untouched and a *domain.BusyError is
// returned.
func (r *Registry) Acquire(id string, claim func(*StackActionState)) (*Guard, error) {
	for {
		e := r.getOrInsert(id)

		e.mu.Lock()
		if e.evicted {
			// Lost a race with Evict; the id now maps to a fresh entry.
			e.mu.Unlock()
			continue
		}
		if active := e.state.Active(); active != "" {
			e.mu.Unlock()
			return nil, &domain.BusyError{ResourceID: id, Operation: active}
		}
		claim(&e.state)
		e.mu.Unlock()
		return &Guard{entry: e}, nil
	}
}

// Get returns a snapshot of id's state. Unknown ids report all-false.
func (r *Registry) Get(id string) StackActionState {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return StackActionState{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Evict drops id's entry if it is idle. It reports whether the entry is gone.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Busy() {
		return false
	}
	e.evicted = true
	delete(r.entries, id)
	return true
}

// Len returns the number of tracked ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Guard is the release token for a successful Acquire.
type Guard struct {
	entry *entry
	once  sync.Once
}

// Release resets the entry to all-false. Safe to call more than once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.entry.mu.Lock()
		g.entry.state = StackActionState{}
		g.entry.mu.Unlock()
	})
}
