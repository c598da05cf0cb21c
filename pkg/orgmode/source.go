package orgmode

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

const SourceID = "orgmode"

// Adapter reads TODO headlines from a fixed set of Org files. It never writes back.
type Adapter struct {
	files []string
	tag   string
	log   logrus.FieldLogger
}

// NewAdapter returns an adapter over files. A non-empty tag keeps only headlines carrying it.
func NewAdapter(files []string, tag string, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{files: files, tag: tag, log: log.WithField("source", SourceID)}
}

func (a *Adapter) ID() string                       { return SourceID }
func (a *Adapter) Name() string                     { return "Org mode" }
func (a *Adapter) Reconciler() reconcile.Reconciler { return reconcile.Simple{} }

func (a *Adapter) LoadInitialData(ctx context.Context) ([]model.Pending, error) {
	return a.Refresh(ctx)
}

func (a *Adapter) Refresh(context.Context) ([]model.Pending, error) {
	entries, err := ParseFiles(a.files)
	if err != nil {
		return nil, err
	}
	if a.tag != "" {
		entries = FilterTasks(entries, a.tag)
	}
	out := make([]model.Pending, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToPending(e))
	}
	a.log.WithField("entries", len(out)).Debug("parsed org files")
	return out, nil
}

// ToPending converts an entry. The :ID: property is the natural key.
func ToPending(e Entry) model.Pending {
	status := "todo"
	if e.Done {
		status = "done"
	}
	return model.Pending{
		NaturalKey: e.ID,
		Fields: model.Fields{
			Title:    e.Title,
			Status:   status,
			Done:     e.Done,
			Priority: e.Priority,
			Areas:    append([]string(nil), e.Tags...),
			DoDate:   e.Scheduled,
			DueDate:  e.Deadline,
		},
	}
}
