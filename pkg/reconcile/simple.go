package reconcile

import "github.com/harrisonrobin/taskmerge/pkg/model"

// Simple is the policy for sources that own their records outright: a refresh replaces every
// task the source owns, and an incoming record replaces the fields of the task it matches.
type Simple struct{}

func (Simple) FilterOnRefresh(current []model.Task, sourceID string) []model.Task {
	kept := make([]model.Task, 0, len(current))
	for _, t := range current {
		if t.Source.Extension == sourceID {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func (Simple) Matches(existing model.Task, incoming model.Pending, sourceID string) bool {
	return matchIdentity(existing, incoming, sourceID)
}

func (Simple) Reconcile(existing *model.Task, incoming model.Pending, env Env) model.Task {
	if existing == nil {
		return create(incoming, env)
	}
	return finish(*existing, incoming.Fields.Clone(), incoming, env)
}
