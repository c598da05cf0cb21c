package reconcile

import (
	"strings"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// BackingStore is the policy for a shared persistent store (a note vault) that can hold tasks
// owned by other sources. Records are dropped and matched by co-location in the store rather
// than by ownership, so a task imported into the store is merged instead of duplicated.
type BackingStore struct{}

// FilterOnRefresh drops every task materialized in the store, whoever owns it.
func (BackingStore) FilterOnRefresh(current []model.Task, sourceID string) []model.Task {
	kept := make([]model.Task, 0, len(current))
	for _, t := range current {
		if _, stored := t.KeyFor(sourceID); stored || t.Source.Extension == sourceID {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func (BackingStore) Matches(existing model.Task, incoming model.Pending, sourceID string) bool {
	if matchIdentity(existing, incoming, sourceID) {
		return true
	}
	for src, key := range incoming.Keys {
		if src == sourceID {
			continue
		}
		if k, ok := existing.KeyFor(src); ok && k == key {
			return true
		}
	}
	// Title matching is limited to tasks not yet stored, so two notes never collapse into one.
	if _, stored := existing.KeyFor(sourceID); stored {
		return false
	}
	title := normalizeTitle(incoming.Title)
	return title != "" && title == normalizeTitle(existing.Title)
}

// Reconcile merges a stored record into the task it denotes. A task the store owns takes the
// record's fields as they are, so clearing a field in the store clears it on the task. A task
// owned elsewhere only takes the record's non-empty fields and keeps its owner.
//
// A record naming an owner that has loaded without it was dropped there, typically because it
// was completed. The store adopts it so the owner's next refresh does not drop it again.
func (BackingStore) Reconcile(existing *model.Task, incoming model.Pending, env Env) model.Task {
	if existing == nil {
		t := create(incoming, env)
		if t.Source.Extension != env.SourceID && env.synced(t.Source.Extension) {
			t.Source.Extension = env.SourceID
		}
		return t
	}
	if existing.Source.Extension == env.SourceID {
		return finish(*existing, incoming.Fields.Clone(), incoming, env)
	}
	return finish(*existing, model.Overlay(existing.Fields, incoming.Fields), incoming, env)
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
