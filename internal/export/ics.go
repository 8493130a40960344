// Package export renders cached events for other calendar tools.
package export

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/bnema/gcal-companion/internal/calendar"
)

const (
	productID = "-//bnema//gcal-companion//EN"

	// PropertyCompleted carries the local completion flag.
	PropertyCompleted ical.ComponentProperty = "X-GCAL-COMPANION-COMPLETED"
)

// WriteICS writes events as one VCALENDAR. Events without a known start are
// skipped; all-day events use DATE values. It returns the number written.
func WriteICS(w io.Writer, events []calendar.Event) (int, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	stamp := time.Now().UTC()
	written := 0
	for _, e := range events {
		if !e.HasKnownTime() {
			continue
		}

		ev := cal.AddEvent(uid(e))
		ev.SetDtStampTime(stamp)
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}

		if e.AllDay {
			ev.SetAllDayStartAt(e.StartTime)
			if !e.EndTime.IsZero() {
				ev.SetAllDayEndAt(e.EndTime)
			}
		} else {
			ev.SetStartAt(e.StartTime)
			if !e.EndTime.IsZero() {
				ev.SetEndAt(e.EndTime)
			}
		}

		if e.Completed {
			ev.SetProperty(PropertyCompleted, "TRUE")
		}
		written++
	}

	if err := cal.SerializeTo(w); err != nil {
		return 0, fmt.Errorf("failed to write calendar: %w", err)
	}
	return written, nil
}

func uid(e calendar.Event) string {
	if e.ID == "" {
		return fmt.Sprintf("%d@gcal-companion", e.StartTime.Unix())
	}
	return e.ID + "@google.com"
}
