package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/taskmerge/pkg/crosssync"
	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
	"github.com/harrisonrobin/taskmerge/pkg/sources"
)

const (
	SourceID = "calendar"
	// lookback bounds how far into the past events are listed.
	lookback = 30 * 24 * time.Hour
)

var errGone = errors.New("event no longer exists")

// Adapter lists the events of one calendar.
type Adapter struct {
	client *CalendarClient
	poll   time.Duration
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewAdapter returns an adapter over client. A positive poll interval makes Watch re-list the
// calendar on that interval.
func NewAdapter(client *CalendarClient, poll time.Duration, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{client: client, poll: poll, log: log.WithField("source", SourceID), now: time.Now}
}

func (a *Adapter) ID() string                       { return SourceID }
func (a *Adapter) Name() string                     { return "Google Calendar" }
func (a *Adapter) Reconciler() reconcile.Reconciler { return reconcile.Simple{} }

func (a *Adapter) LoadInitialData(ctx context.Context) ([]model.Pending, error) {
	return a.Refresh(ctx)
}

func (a *Adapter) Refresh(ctx context.Context) ([]model.Pending, error) {
	events, err := a.client.ListEvents(ctx, a.now().Add(-lookback))
	if err != nil {
		return nil, err
	}
	out := make([]model.Pending, 0, len(events))
	for _, ev := range events {
		if ev.Status == "cancelled" || ev.Summary == "" {
			continue
		}
		out = append(out, EventToPending(ev))
	}
	return out, nil
}

// Watch re-lists the calendar every poll interval and reports each listing as a bulk refresh.
// Without an interval it does nothing.
func (a *Adapter) Watch(ctx context.Context, cb sources.Callbacks) (sources.CancelFunc, error) {
	if a.poll <= 0 || cb.OnBulkRefresh == nil {
		return func() {}, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(a.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				records, err := a.Refresh(ctx)
				if err != nil {
					a.log.WithError(err).Warn("calendar poll failed")
					continue
				}
				cb.OnBulkRefresh(records)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// Provider exposes event fields to the cross-source pass.
type Provider struct {
	client *CalendarClient
	keys   crosssync.KeyResolver
	colors *Palette
	now    func() time.Time
}

func NewProvider(client *CalendarClient, keys crosssync.KeyResolver, colors *Palette) *Provider {
	return &Provider{client: client, keys: keys, colors: colors, now: time.Now}
}

func (p *Provider) SourceID() string { return SourceID }

func (p *Provider) CanHandle(task model.Task) bool {
	_, ok := task.KeyFor(SourceID)
	return ok
}

func (p *Provider) ReadFields(ctx context.Context, id string) (*model.FieldView, error) {
	ev, err := p.event(ctx, id)
	if err != nil || ev == nil {
		return nil, err
	}
	return &model.FieldView{Fields: EventFields(ev), ModifiedAt: ModifiedAt(ev), Carries: Carried}, nil
}

// WriteFields patches only what differs, and tags the event with the task id.
func (p *Provider) WriteFields(ctx context.Context, id string, view model.FieldView) error {
	ev, err := p.event(ctx, id)
	if err != nil {
		return err
	}
	if ev == nil {
		return fmt.Errorf("event for task %s: %w", id, errGone)
	}
	patch := EventNeedsUpdate(ev, TargetEvent(view.Fields, p.now(), p.colors))
	patch = withIdentity(patch, ev, id)
	if patch == nil {
		return nil
	}
	if _, err := p.client.PatchEvent(ctx, ev.Id, patch); err != nil {
		return err
	}
	if p.colors != nil {
		return p.colors.Save()
	}
	return nil
}

// event fetches the event of task id. Deleted or unknown events yield nil.
func (p *Provider) event(ctx context.Context, id string) (*calendar.Event, error) {
	eventID, ok := p.keys.NaturalKey(SourceID, id)
	if !ok {
		return nil, nil
	}
	ev, err := p.client.GetEvent(ctx, eventID)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ev.Status == "cancelled" {
		return nil, nil
	}
	return ev, nil
}
