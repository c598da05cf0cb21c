// Package store owns the canonical task collection. Every mutation goes through Reduce, and
// Store applies actions one at a time.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskmerge/pkg/events"
	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

// Store serializes dispatches against a single versioned State.
type Store struct {
	mu      sync.Mutex
	state   State
	version uint64
	bus     *events.Bus
	now     func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp tasks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the identity generator.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithBus publishes commit events on bus.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// New returns a Store seeded with initial, typically read back from persistence.
func New(initial State, opts ...Option) *Store {
	s := &Store{
		state: initial,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	if s.state.Sources == nil {
		s.state.Sources = make(map[string]SourceStatus)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromSnapshot builds an initial State from persisted tasks and sync times.
func FromSnapshot(tasks []model.Task, lastSync map[string]time.Time) State {
	st := State{Tasks: tasks, Sources: make(map[string]SourceStatus, len(lastSync))}
	for id, at := range lastSync {
		st.Sources[id] = SourceStatus{LastSync: at}
	}
	return st
}

// Dispatch applies action and returns the committed state.
func (s *Store) Dispatch(action Action) State {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, action, reconcile.Env{Now: s.now(), NewID: s.newID})
	changed := tasksChanged(prev.Tasks, next.Tasks)
	s.state = next
	if changed {
		s.version++
	}
	version := s.version
	s.mu.Unlock()

	s.publish(action, prev, next)
	if changed {
		s.bus.Publish(events.StateCommitted{Version: version, Tasks: len(next.Tasks)})
	}
	return next
}

// State returns the current committed state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version counts commits that changed the collection.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Bus returns the event bus the store publishes on, possibly nil.
func (s *Store) Bus() *events.Bus {
	return s.bus
}

func (s *Store) publish(action Action, prev, next State) {
	if s.bus == nil {
		return
	}
	switch a := action.(type) {
	case LoadSourceStart:
		s.bus.Publish(events.SourceLoadStarted{SourceID: a.SourceID})
	case LoadSourceSuccess:
		if st := next.Sources[a.SourceID]; st.Err == "" {
			s.bus.Publish(events.SourceLoaded{SourceID: a.SourceID, Count: len(a.Records), At: st.LastSync})
		}
	case LoadSourceError:
		s.bus.Publish(events.SourceLoadFailed{SourceID: a.SourceID, Err: a.Err})
	case RemoveTask, RemoveByKey:
		ids := make(map[string]bool, len(next.Tasks))
		for _, t := range next.Tasks {
			ids[t.ID] = true
		}
		for _, t := range prev.Tasks {
			if !ids[t.ID] {
				s.bus.Publish(events.TaskRemoved{ID: t.ID})
			}
		}
	}
}

func tasksChanged(a, b []model.Task) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].ID != b[i].ID || !a[i].UpdatedAt.Equal(b[i].UpdatedAt) || !model.ContentEqual(a[i], b[i]) {
			return true
		}
	}
	return false
}
