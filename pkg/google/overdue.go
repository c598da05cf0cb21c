package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
)

// SweepOverdue marks every open event whose do or due date has passed with the overdue mark.
// Cross-source writes compare fields without marks, so a task that merely became overdue is
// never rewritten by them; the sweep covers that case. It returns the number of events patched.
func (p *Provider) SweepOverdue(ctx context.Context) (int, error) {
	now := p.now()
	events, err := p.client.ListEvents(ctx, now.Add(-lookback))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, ev := range events {
		if !becameOverdue(ev, now) {
			continue
		}
		title, _ := splitMark(ev.Summary)
		if _, err := p.client.PatchEvent(ctx, ev.Id, &calendar.Event{Summary: markOverdue + " " + title}); err != nil {
			return swept, fmt.Errorf("mark event %s overdue: %w", ev.Id, err)
		}
		swept++
	}
	return swept, nil
}

func becameOverdue(ev *calendar.Event, now time.Time) bool {
	if ev.Status == "cancelled" || ev.Summary == "" {
		return false
	}
	f := EventFields(ev)
	if f.Done || f.Status == "active" {
		return false
	}
	want := markedSummary(f, now)
	return want != ev.Summary && strings.HasPrefix(want, markOverdue+" ")
}
