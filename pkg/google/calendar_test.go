package google

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/sources"
)

type fakeAPI struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	patches []*calendar.Event
}

func newFakeAPI(events ...*calendar.Event) *fakeAPI {
	f := &fakeAPI{events: map[string]*calendar.Event{}}
	for _, ev := range events {
		f.events[ev.Id] = ev
	}
	return f
}

func (f *fakeAPI) List(context.Context, string, time.Time) ([]*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*calendar.Event
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeAPI) Get(_ context.Context, _, eventID string) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	return ev, nil
}

func (f *fakeAPI) Patch(_ context.Context, _, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	ev := f.events[eventID]
	if patch.Summary != "" {
		ev.Summary = patch.Summary
	}
	if patch.Start != nil {
		ev.Start, ev.End = patch.Start, patch.End
	}
	if patch.ExtendedProperties != nil {
		if ev.ExtendedProperties == nil {
			ev.ExtendedProperties = &calendar.EventExtendedProperties{Private: map[string]string{}}
		}
		for k, v := range patch.ExtendedProperties.Private {
			ev.ExtendedProperties.Private[k] = v
		}
	}
	return ev, nil
}

type staticKeys map[string]string

func (k staticKeys) NaturalKey(_, id string) (string, bool) {
	key, ok := k[id]
	return key, ok
}

func dentist() *calendar.Event {
	return &calendar.Event{
		Id:       "evt1",
		Summary:  "! Call dentist",
		HtmlLink: "https://calendar.google.com/event?eid=evt1",
		Updated:  "2024-02-01T10:00:00Z",
		Start:    &calendar.EventDateTime{DateTime: "2024-02-02T09:00:00Z"},
		End:      &calendar.EventDateTime{DateTime: "2024-02-02T09:30:00Z"},
		ExtendedProperties: &calendar.EventExtendedProperties{Private: map[string]string{
			propID:      "t1",
			propOwner:   "tracker",
			propProject: "health",
		}},
	}
}

func TestEventToPending(t *testing.T) {
	p := EventToPending(dentist())

	assert.Equal(t, "evt1", p.NaturalKey)
	assert.Equal(t, "t1", p.KnownID)
	assert.Equal(t, "tracker", p.Owner)
	assert.Equal(t, "Call dentist", p.Title)
	assert.Equal(t, "health", p.Project)
	assert.False(t, p.Done)
	require.NotNil(t, p.DoDate)
	assert.Equal(t, 9, p.DoDate.Hour())
	assert.Equal(t, "https://calendar.google.com/event?eid=evt1", p.URL)

	done := EventToPending(&calendar.Event{Id: "e2", Summary: "✓ Pay rent", Start: &calendar.EventDateTime{Date: "2024-02-01"}})
	assert.True(t, done.Done)
	assert.Equal(t, "Pay rent", done.Title)
	require.NotNil(t, done.DoDate)
}

func TestTargetEvent_RoundTrip(t *testing.T) {
	do := time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)
	f := model.Fields{Title: "Plan trip", Project: "travel", Areas: []string{"family"}, DoDate: &do, Status: "todo"}

	ev := TargetEvent(f, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	assert.Equal(t, "Plan trip", ev.Summary)
	assert.Equal(t, "2030-05-01T08:30:00Z", ev.End.DateTime)

	got := EventFields(ev)
	assert.True(t, model.FieldsEqual(f, got))
}

func TestTargetEvent_Marks(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "✓ x", TargetEvent(model.Fields{Title: "x", Done: true, DueDate: &past}, now, nil).Summary)
	assert.Equal(t, "! x", TargetEvent(model.Fields{Title: "x", DueDate: &past}, now, nil).Summary)
	assert.Equal(t, "‣ x", TargetEvent(model.Fields{Title: "x", Status: "active"}, now, nil).Summary)
}

func TestEventNeedsUpdate(t *testing.T) {
	existing := dentist()
	f := EventFields(existing)
	now := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, EventNeedsUpdate(existing, TargetEvent(f, now, nil)))

	f.Title = "Call the dentist"
	patch := EventNeedsUpdate(existing, TargetEvent(f, now, nil))
	require.NotNil(t, patch)
	assert.Equal(t, "! Call the dentist", patch.Summary)
	assert.Nil(t, patch.Start)
	assert.Nil(t, patch.ExtendedProperties)
}

func TestAdapter_Refresh(t *testing.T) {
	api := newFakeAPI(dentist(), &calendar.Event{Id: "gone", Summary: "Old", Status: "cancelled"})
	log, _ := test.NewNullLogger()
	a := NewAdapter(NewCalendarClient(api, "primary"), 0, log)

	records, err := a.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "evt1", records[0].NaturalKey)
}

func TestAdapter_WatchPolls(t *testing.T) {
	api := newFakeAPI(dentist())
	log, _ := test.NewNullLogger()
	a := NewAdapter(NewCalendarClient(api, "primary"), 10*time.Millisecond, log)

	got := make(chan []model.Pending, 4)
	cancel, err := a.Watch(context.Background(), sources.Callbacks{
		OnBulkRefresh: func(records []model.Pending) {
			select {
			case got <- records:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer cancel()

	select {
	case records := <-got:
		assert.Len(t, records, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no poll")
	}
}

func TestProvider(t *testing.T) {
	api := newFakeAPI(dentist())
	palette, err := NewPalette(filepath.Join(t.TempDir(), "colors.json"))
	require.NoError(t, err)
	p := NewProvider(NewCalendarClient(api, "primary"), staticKeys{"t1": "evt1", "t2": "missing"}, palette)
	p.now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	view, err := p.ReadFields(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "Call dentist", view.Title)
	assert.Equal(t, 2024, view.ModifiedAt.Year())
	assert.False(t, view.Mask().Has(model.FieldPriority), "events have no priority")
	assert.True(t, view.Mask().Has(model.FieldTitle|model.FieldDueDate))

	view.Done = true
	require.NoError(t, p.WriteFields(ctx, "t1", *view))
	require.Len(t, api.patches, 1)
	assert.Equal(t, "✓ Call dentist", api.events["evt1"].Summary)
	assert.NotEmpty(t, api.patches[0].ColorId)

	missing, err := p.ReadFields(ctx, "t2")
	assert.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, p.WriteFields(ctx, "t2", *view), errGone)
}

func TestPalette(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.json")
	p, err := NewPalette(path)
	require.NoError(t, err)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	assert.Equal(t, noProjectColor, p.ColorFor(""))
	first := p.ColorFor("p0")
	assert.Equal(t, first, p.ColorFor("p0"))
	for i := 1; i < paletteSize; i++ {
		p.ColorFor("p" + string(rune('a'+i)))
	}
	p.ColorFor("p0")
	recycled := p.ColorFor("new")
	assert.NotEqual(t, first, recycled)

	require.NoError(t, p.Save())
	again, err := NewPalette(path)
	require.NoError(t, err)
	assert.Equal(t, recycled, again.Projects["new"].ColorID)
}

func TestProvider_SweepOverdue(t *testing.T) {
	late := dentist()
	late.Id, late.Summary = "late", "Call dentist"
	done := dentist()
	done.Id, done.Summary = "done", "✓ Pay rent"
	future := dentist()
	future.Id, future.Summary = "future", "Plan trip"
	future.Start = &calendar.EventDateTime{DateTime: "2030-01-01T09:00:00Z"}
	marked := dentist()

	api := newFakeAPI(late, done, future, marked)
	p := NewProvider(NewCalendarClient(api, "primary"), staticKeys{}, nil)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	n, err := p.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "! Call dentist", api.events["late"].Summary)
	assert.Equal(t, "✓ Pay rent", api.events["done"].Summary)
	assert.Equal(t, "Plan trip", api.events["future"].Summary)

	n, err = p.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
