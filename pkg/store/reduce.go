package store

import (
	"maps"
	"time"

	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

// SourceStatus is the loading state of one source.
type SourceStatus struct {
	Loading  bool      `json:"loading"`
	Err      string    `json:"error,omitempty"`
	LastSync time.Time `json:"lastSync,omitempty"`
}

// State is the canonical collection plus per-source status. Values are treated as immutable:
// Reduce never modifies the State it is given.
type State struct {
	Tasks   []model.Task
	Sources map[string]SourceStatus
}

// LastSync returns the last successful load time of every source that has one.
func (s State) LastSync() map[string]time.Time {
	out := make(map[string]time.Time, len(s.Sources))
	for id, st := range s.Sources {
		if !st.LastSync.IsZero() {
			out[id] = st.LastSync
		}
	}
	return out
}

// Synced reports whether the source has ever loaded successfully.
func (s State) Synced(sourceID string) bool {
	return !s.Sources[sourceID].LastSync.IsZero()
}

// Find returns the task with the given id.
func (s State) Find(id string) (model.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

// FindByKey returns the task a source knows under naturalKey.
func (s State) FindByKey(sourceID, naturalKey string) (model.Task, bool) {
	for _, t := range s.Tasks {
		if k, ok := t.KeyFor(sourceID); ok && k == naturalKey {
			return t, true
		}
	}
	return model.Task{}, false
}

// Reduce applies action to state and returns the new state. It is pure for a given env:
// env.Now stamps timestamps and env.NewID mints identities. env.SourceID is taken from the action.
func Reduce(state State, action Action, env reconcile.Env) State {
	switch a := action.(type) {
	case LoadSourceStart:
		return withSource(state, a.SourceID, SourceStatus{Loading: true, LastSync: state.Sources[a.SourceID].LastSync})
	case LoadSourceError:
		msg := "unknown error"
		if a.Err != nil {
			msg = a.Err.Error()
		}
		return withSource(state, a.SourceID, SourceStatus{Err: msg, LastSync: state.Sources[a.SourceID].LastSync})
	case LoadSourceSuccess:
		env.SourceID = a.SourceID
		env.Synced = state.Synced
		return loadSuccess(state, a, env)
	case UpsertTask:
		env.SourceID = a.SourceID
		env.Synced = state.Synced
		return upsert(state, a, env)
	case AddTask:
		if _, ok := state.Find(a.Task.ID); ok {
			return update(state, a.Task, env)
		}
		return add(state, a.Task, env)
	case UpdateTask:
		return update(state, a.Task, env)
	case RemoveTask:
		return remove(state, func(t model.Task) bool { return t.ID == a.ID })
	case RemoveByKey:
		return remove(state, func(t model.Task) bool {
			k, ok := t.KeyFor(a.SourceID)
			return ok && k == a.NaturalKey
		})
	}
	return state
}

// loadSuccess filters the current collection with the source's reconciler, matches every
// incoming record against the collection as it was before filtering, and assembles the
// result from the kept tasks plus the reconciled ones.
func loadSuccess(state State, a LoadSourceSuccess, env reconcile.Env) State {
	r := a.Reconciler
	if r == nil {
		return withSource(state, a.SourceID, SourceStatus{Err: "no reconciler", LastSync: state.Sources[a.SourceID].LastSync})
	}

	kept := r.FilterOnRefresh(state.Tasks, a.SourceID)
	out := make([]model.Task, 0, len(kept)+len(a.Records))
	pos := make(map[string]int, len(kept)+len(a.Records))
	for _, t := range kept {
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	var fresh []int

	for _, rec := range a.Records {
		var existing *model.Task
		idx := -1

		// Records already created in this batch come first, so a source repeating a key
		// folds into one task.
		for _, i := range fresh {
			if r.Matches(out[i], rec, a.SourceID) {
				existing, idx = &out[i], i
				break
			}
		}
		if existing == nil {
			for i := range state.Tasks {
				if !r.Matches(state.Tasks[i], rec, a.SourceID) {
					continue
				}
				if j, ok := pos[state.Tasks[i].ID]; ok {
					// An earlier record of this batch may have claimed the task.
					if !r.Matches(out[j], rec, a.SourceID) {
						continue
					}
					existing, idx = &out[j], j
				} else {
					t := state.Tasks[i]
					existing = &t
				}
				break
			}
		}

		merged := r.Reconcile(existing, rec, env)
		if idx >= 0 {
			out[idx] = merged
			continue
		}
		if j, ok := pos[merged.ID]; ok {
			out[j] = merged
			continue
		}
		pos[merged.ID] = len(out)
		fresh = append(fresh, len(out))
		out = append(out, merged)
	}

	next := withSource(state, a.SourceID, SourceStatus{LastSync: env.Now})
	next.Tasks = out
	return next
}

func upsert(state State, a UpsertTask, env reconcile.Env) State {
	r := a.Reconciler
	if r == nil {
		return state
	}
	out := append([]model.Task(nil), state.Tasks...)
	for i := range out {
		if r.Matches(out[i], a.Record, a.SourceID) {
			existing := out[i]
			out[i] = r.Reconcile(&existing, a.Record, env)
			return withTasks(state, out)
		}
	}
	merged := r.Reconcile(nil, a.Record, env)
	for i := range out {
		if out[i].ID == merged.ID {
			out[i] = merged
			return withTasks(state, out)
		}
	}
	return withTasks(state, append(out, merged))
}

func add(state State, task model.Task, env reconcile.Env) State {
	t := task.Clone()
	if t.ID == "" {
		t.ID = env.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = env.Now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	out := append(append([]model.Task(nil), state.Tasks...), t)
	return withTasks(state, out)
}

// update replaces the task with the same id while keeping its identity, creation time, owner
// and known keys. Keys on the incoming task win, so a source can re-point its own key.
func update(state State, task model.Task, env reconcile.Env) State {
	for i, existing := range state.Tasks {
		if existing.ID != task.ID {
			continue
		}
		merged := task.Clone()
		merged.CreatedAt = existing.CreatedAt
		if existing.Source.Extension != "" {
			merged.Source.Extension = existing.Source.Extension
		}
		merged.Source.Keys = model.MergeKeys(existing.Source.Keys, task.Source.Keys)
		if merged.Source.Data == nil {
			merged.Source.Data = existing.Source.Data
		}
		if model.ContentEqual(existing, merged) {
			merged.UpdatedAt = existing.UpdatedAt
		} else {
			merged.UpdatedAt = env.Now
		}
		out := append([]model.Task(nil), state.Tasks...)
		out[i] = merged
		return withTasks(state, out)
	}
	return state
}

func remove(state State, drop func(model.Task) bool) State {
	out := make([]model.Task, 0, len(state.Tasks))
	for _, t := range state.Tasks {
		if !drop(t) {
			out = append(out, t)
		}
	}
	if len(out) == len(state.Tasks) {
		return state
	}
	return withTasks(state, out)
}

func withTasks(state State, tasks []model.Task) State {
	return State{Tasks: tasks, Sources: state.Sources}
}

func withSource(state State, id string, st SourceStatus) State {
	sources := maps.Clone(state.Sources)
	if sources == nil {
		sources = make(map[string]SourceStatus)
	}
	sources[id] = st
	return State{Tasks: state.Tasks, Sources: sources}
}
