// Package reconcile holds the per-source policies that decide how an incoming batch is folded
// into the canonical task collection.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// Env carries what a reconciler needs beyond its two inputs.
type Env struct {
	SourceID string
	Now      time.Time
	NewID    func() string
	// Synced reports whether a source has completed a load. Nil means none has.
	Synced func(sourceID string) bool
}

func (e Env) synced(sourceID string) bool {
	return e.Synced != nil && e.Synced(sourceID)
}

// NewEnv returns an Env stamped with the current time and uuid identities.
func NewEnv(sourceID string) Env {
	return Env{SourceID: sourceID, Now: time.Now().UTC(), NewID: uuid.NewString}
}

// Reconciler is the matching and merging policy of one source.
type Reconciler interface {
	// FilterOnRefresh returns the tasks to keep before a full batch from sourceID is folded in.
	FilterOnRefresh(current []model.Task, sourceID string) []model.Task
	// Matches reports whether existing and incoming denote the same logical task.
	Matches(existing model.Task, incoming model.Pending, sourceID string) bool
	// Reconcile merges incoming into existing. A nil existing creates a new task.
	Reconcile(existing *model.Task, incoming model.Pending, env Env) model.Task
}

// Kind names a built-in strategy.
type Kind string

const (
	KindSimple       Kind = "simple"
	KindBackingStore Kind = "backing-store"
)

// ForKind returns the built-in reconciler for kind, or nil if kind is unknown.
func ForKind(kind Kind) Reconciler {
	switch kind {
	case KindSimple:
		return Simple{}
	case KindBackingStore:
		return BackingStore{}
	}
	return nil
}

// matchIdentity covers the checks both strategies share: engine id, own natural key, URL.
func matchIdentity(existing model.Task, incoming model.Pending, sourceID string) bool {
	if incoming.KnownID != "" && existing.ID == incoming.KnownID {
		return true
	}
	if key, ok := existing.KeyFor(sourceID); ok && key == incoming.NaturalKey && key != "" {
		return true
	}
	return incoming.URL != "" && existing.Source.URL == incoming.URL
}

// finish applies the invariants every merge must keep: id, createdAt and ownership come from
// existing, keys are unioned, and updatedAt only moves when content changed.
func finish(existing model.Task, fields model.Fields, incoming model.Pending, env Env) model.Task {
	merged := existing.Clone()
	merged.Fields = fields
	merged.Source.Keys = model.MergeKeys(
		incoming.Keys,
		existing.Source.Keys,
		map[string]string{env.SourceID: incoming.NaturalKey},
	)
	if merged.Source.Extension == "" {
		merged.Source.Extension = env.SourceID
	}
	if incoming.URL != "" {
		merged.Source.URL = incoming.URL
	}
	if incoming.Data != nil {
		merged.Source.Data = incoming.Data
	}
	if !model.ContentEqual(existing, merged) {
		merged.UpdatedAt = env.Now
	}
	return merged
}

func create(incoming model.Pending, env Env) model.Task {
	id := incoming.KnownID
	if id == "" {
		id = env.NewID()
	}
	return model.NewTask(incoming, env.SourceID, id, env.Now)
}
