package google

import (
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// Private extended properties written on events.
const (
	propID      = "taskmerge_id"
	propOwner   = "taskmerge_owner"
	propProject = "taskmerge_project"
	propStatus  = "taskmerge_status"
	propAreas   = "taskmerge_areas"
	propDue     = "taskmerge_due"
)

const (
	markDone    = "✓"
	markActive  = "‣"
	markOverdue = "!"

	defaultDuration = 30 * time.Minute
)

// EventToPending converts an event. The event id is the natural key; a task id written earlier
// into the private properties comes back as KnownID.
func EventToPending(ev *calendar.Event) model.Pending {
	props := privateProps(ev)
	return model.Pending{
		NaturalKey: ev.Id,
		KnownID:    props[propID],
		Fields:     EventFields(ev),
		Owner:      props[propOwner],
		URL:        ev.HtmlLink,
	}
}

// EventFields reads the task fields an event carries.
// Carried lists the fields an event stores. Priority, category and parent have no home on it.
const Carried = model.AllFields &^ (model.FieldPriority | model.FieldCategory | model.FieldParentTask)

func EventFields(ev *calendar.Event) model.Fields {
	props := privateProps(ev)
	title, mark := splitMark(ev.Summary)
	f := model.Fields{
		Title:   title,
		Project: props[propProject],
		Status:  props[propStatus],
		DoDate:  eventStart(ev),
		DueDate: parseTime(props[propDue]),
	}
	if areas := props[propAreas]; areas != "" {
		f.Areas = strings.Split(areas, ",")
	}
	f.Done = mark == markDone || f.Status == "done"
	return f
}

// ModifiedAt returns the event's last update time.
func ModifiedAt(ev *calendar.Event) time.Time {
	if t := parseTime(ev.Updated); t != nil {
		return *t
	}
	return time.Time{}
}

// TargetEvent renders the fields as the event they should produce. Start and End are left nil
// when the task has no do date.
func TargetEvent(f model.Fields, now time.Time, colors *Palette) *calendar.Event {
	ev := &calendar.Event{
		Summary: markedSummary(f, now),
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				propProject: f.Project,
				propStatus:  f.Status,
				propAreas:   strings.Join(f.Areas, ","),
				propDue:     formatTime(f.DueDate),
			},
		},
	}
	if colors != nil {
		ev.ColorId = colors.ColorFor(f.Project)
	}
	if f.DoDate != nil {
		start := f.DoDate.UTC()
		ev.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: start.Add(defaultDuration).Format(time.RFC3339)}
	}
	return ev
}

// EventNeedsUpdate returns the patch that turns existing into target, or nil when nothing differs.
func EventNeedsUpdate(existing, target *calendar.Event) *calendar.Event {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if target.ColorId != "" && existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}
	if target.Start != nil && !sameInstant(existing.Start, target.Start) {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	have := privateProps(existing)
	changed := map[string]string{}
	for k, v := range target.ExtendedProperties.Private {
		if have[k] != v {
			changed[k] = v
		}
	}
	if len(changed) > 0 {
		patch.ExtendedProperties = &calendar.EventExtendedProperties{Private: changed}
		needsUpdate = true
	}

	if needsUpdate {
		return patch
	}
	return nil
}

func markedSummary(f model.Fields, now time.Time) string {
	mark := ""
	switch {
	case f.Done:
		mark = markDone
	case f.Status == "active":
		mark = markActive
	case f.DueDate != nil && f.DueDate.Before(now), f.DoDate != nil && f.DoDate.Before(now):
		mark = markOverdue
	}
	if mark == "" {
		return f.Title
	}
	return mark + " " + f.Title
}

func splitMark(summary string) (title, mark string) {
	for _, m := range []string{markDone, markActive, markOverdue} {
		if rest, ok := strings.CutPrefix(summary, m+" "); ok {
			return rest, m
		}
	}
	return summary, ""
}

func privateProps(ev *calendar.Event) map[string]string {
	if ev.ExtendedProperties == nil || ev.ExtendedProperties.Private == nil {
		return map[string]string{}
	}
	return ev.ExtendedProperties.Private
}

func eventStart(ev *calendar.Event) *time.Time {
	if ev.Start == nil {
		return nil
	}
	if t := parseTime(ev.Start.DateTime); t != nil {
		return t
	}
	if ev.Start.Date != "" {
		if t, err := time.ParseInLocation("2006-01-02", ev.Start.Date, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

func sameInstant(a, b *calendar.EventDateTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := parseTime(a.DateTime), parseTime(b.DateTime)
	if ta == nil || tb == nil {
		return a.DateTime == b.DateTime && a.Date == b.Date
	}
	return ta.Equal(*tb)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// withIdentity adds the task id to a patch so later loads resolve the event to the same task.
func withIdentity(patch, existing *calendar.Event, id string) *calendar.Event {
	if privateProps(existing)[propID] == id {
		return patch
	}
	if patch == nil {
		patch = &calendar.Event{}
	}
	if patch.ExtendedProperties == nil {
		patch.ExtendedProperties = &calendar.EventExtendedProperties{Private: map[string]string{}}
	}
	patch.ExtendedProperties.Private[propID] = id
	return patch
}
