package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// EventsAPI is the part of the Calendar API the source needs.
type EventsAPI interface {
	List(ctx context.Context, calendarID string, timeMin time.Time) ([]*calendar.Event, error)
	Get(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)
	Patch(ctx context.Context, calendarID, eventID string, patch *calendar.Event) (*calendar.Event, error)
}

// serviceAPI implements EventsAPI over *calendar.Service.
type serviceAPI struct {
	srv *calendar.Service
}

func (s serviceAPI) List(ctx context.Context, calendarID string, timeMin time.Time) ([]*calendar.Event, error) {
	var out []*calendar.Event
	err := s.srv.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		Pages(ctx, func(page *calendar.Events) error {
			out = append(out, page.Items...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}
	return out, nil
}

func (s serviceAPI) Get(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	return s.srv.Events.Get(calendarID, eventID).Context(ctx).Do()
}

func (s serviceAPI) Patch(ctx context.Context, calendarID, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	return s.srv.Events.Patch(calendarID, eventID, patch).Context(ctx).Do()
}

// Requests per second allowed against the Calendar API, shared by the adapter, the provider and
// the overdue sweep.
const (
	requestRate  = 5
	requestBurst = 10
)

// CalendarClient talks to one calendar.
type CalendarClient struct {
	api        EventsAPI
	calendarID string
	limiter    *rate.Limiter
}

func NewCalendarClient(api EventsAPI, calendarID string) *CalendarClient {
	return &CalendarClient{
		api:        api,
		calendarID: calendarID,
		limiter:    rate.NewLimiter(rate.Limit(requestRate), requestBurst),
	}
}

// NewClient resolves calendarName through the calendar list of an authorized HTTP client.
func NewClient(ctx context.Context, httpClient *http.Client, calendarName string) (*CalendarClient, error) {
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}

	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve calendar list: %w", err)
	}

	var calendarID string
	for _, item := range calendarList.Items {
		if item.Summary == calendarName {
			calendarID = item.Id
			break
		}
	}
	if calendarID == "" {
		return nil, fmt.Errorf("calendar '%s' not found", calendarName)
	}

	return NewCalendarClient(serviceAPI{srv: srv}, calendarID), nil
}

func (c *CalendarClient) ListEvents(ctx context.Context, timeMin time.Time) ([]*calendar.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.api.List(ctx, c.calendarID, timeMin)
}

func (c *CalendarClient) GetEvent(ctx context.Context, eventID string) (*calendar.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.api.Get(ctx, c.calendarID, eventID)
}

// PatchEvent performs a partial update on an event.
func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.api.Patch(ctx, c.calendarID, eventID, patch)
}
