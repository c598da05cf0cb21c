package taskwarrior

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskmerge/pkg/crosssync"
	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

const SourceID = "taskwarrior"

// Carried lists the fields a task round-trips. Taskwarrior has no category, and Mods never
// rewrites depends.
const Carried = model.AllFields &^ (model.FieldCategory | model.FieldParentTask)

// ToPending converts an exported task. The raw export is kept as the payload.
func ToPending(t Task) model.Pending {
	p := model.Pending{
		NaturalKey: t.UUID,
		Fields: model.Fields{
			Title:    t.Description,
			Status:   statusFor(t.Status),
			Priority: t.Priority,
			Project:  t.Project,
			Areas:    append([]string(nil), t.Tags...),
			Done:     t.Status == COMPLETED,
			DoDate:   t.Scheduled.ptr(),
			DueDate:  t.Due.ptr(),
		},
	}
	if len(t.Depends) > 0 {
		p.ParentTask = t.Depends[0]
	}
	if raw, err := json.Marshal(t); err == nil {
		p.Data = raw
	}
	return p
}

func statusFor(s string) string {
	switch s {
	case COMPLETED:
		return "done"
	case WAITING:
		return "waiting"
	case DELETED:
		return "deleted"
	default:
		return "todo"
	}
}

// Mods builds the `task modify` arguments that bring a task to f. Done is handled separately.
func Mods(f model.Fields) []string {
	return []string{
		"description:" + f.Title,
		"project:" + f.Project,
		"priority:" + f.Priority,
		"tags:" + strings.Join(f.Areas, ","),
		"scheduled:" + formatDate(f.DoDate),
		"due:" + formatDate(f.DueDate),
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Adapter exposes the pending task list. Taskwarrior has no change feed, so it is pull-only.
type Adapter struct {
	client *Client
	filter []string
	log    logrus.FieldLogger
}

// NewAdapter returns an adapter exporting the tasks matching filter, e.g. "status:pending".
func NewAdapter(client *Client, filter string, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{client: client, filter: strings.Fields(filter), log: log.WithField("source", SourceID)}
}

func (a *Adapter) ID() string                       { return SourceID }
func (a *Adapter) Name() string                     { return "Taskwarrior" }
func (a *Adapter) Reconciler() reconcile.Reconciler { return reconcile.Simple{} }

func (a *Adapter) LoadInitialData(ctx context.Context) ([]model.Pending, error) {
	return a.Refresh(ctx)
}

func (a *Adapter) Refresh(ctx context.Context) ([]model.Pending, error) {
	tasks, err := a.client.GetTasks(ctx, a.filter)
	if err != nil {
		return nil, err
	}
	out := make([]model.Pending, 0, len(tasks))
	for _, t := range tasks {
		if t.UUID == "" {
			a.log.WithField("description", t.Description).Warn("skipping task without uuid")
			continue
		}
		out = append(out, ToPending(t))
	}
	a.log.WithField("tasks", len(out)).Debug("exported tasks")
	return out, nil
}

// Provider reads and writes task fields for cross-source sync.
type Provider struct {
	client *Client
	keys   crosssync.KeyResolver
}

func NewProvider(client *Client, keys crosssync.KeyResolver) *Provider {
	return &Provider{client: client, keys: keys}
}

func (p *Provider) SourceID() string { return SourceID }

func (p *Provider) CanHandle(task model.Task) bool {
	_, ok := task.KeyFor(SourceID)
	return ok
}

func (p *Provider) ReadFields(ctx context.Context, id string) (*model.FieldView, error) {
	uuid, ok := p.keys.NaturalKey(SourceID, id)
	if !ok {
		return nil, nil
	}
	tasks, err := p.client.GetTasks(ctx, []string{"uuid:" + uuid})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	t := tasks[0]
	view := &model.FieldView{Fields: ToPending(t).Fields, Carries: Carried}
	if m := t.Modified.ptr(); m != nil {
		view.ModifiedAt = *m
	}
	return view, nil
}

func (p *Provider) WriteFields(ctx context.Context, id string, view model.FieldView) error {
	uuid, ok := p.keys.NaturalKey(SourceID, id)
	if !ok {
		return fmt.Errorf("task %s has no %s key", id, SourceID)
	}
	if err := p.client.Modify(ctx, uuid, Mods(view.Fields)...); err != nil {
		return err
	}
	if !view.Done {
		return nil
	}
	// `task done` fails on a task that is already completed.
	tasks, err := p.client.GetTasks(ctx, []string{"uuid:" + uuid})
	if err != nil {
		return err
	}
	if len(tasks) > 0 && tasks[0].Status == COMPLETED {
		return nil
	}
	return p.client.Done(ctx, uuid)
}
