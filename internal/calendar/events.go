package calendar

import (
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// UnknownTime stands in for a start or end that carried neither a timed
// nor an all-day value.
var UnknownTime = time.Time{}

// DefaultTitle replaces a missing summary.
const DefaultTitle = "(No title)"

const allDayLayout = "2006-01-02"

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	AllDay      bool      `json:"all_day"`
	// Completed is local state and never sent to the calendar service.
	Completed bool `json:"completed"`
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TodayRange returns local midnight of now's day to the next local midnight.
func TodayRange(now time.Time) TimeRange {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return TimeRange{Start: start, End: start.AddDate(0, 0, 1)}
}

func parseEvents(items []*gcal.Event) []Event {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, parseEvent(item))
	}
	return events
}

func parseEvent(item *gcal.Event) Event {
	event := Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if strings.TrimSpace(event.Title) == "" {
		event.Title = DefaultTitle
	}

	var startAllDay bool
	event.StartTime, startAllDay = parseEventTime(item.Start)
	event.EndTime, _ = parseEventTime(item.End)
	event.AllDay = startAllDay

	return event
}

// parseEventTime never fails: unparseable or absent values map to
// UnknownTime so one bad item does not sink the batch.
func parseEventTime(dt *gcal.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return UnknownTime, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return UnknownTime, false
		}
		return t, false
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(allDayLayout, dt.Date, time.Local)
		if err != nil {
			return UnknownTime, false
		}
		return t, true
	}
	return UnknownTime, false
}

// Helper methods for Event

func (e *Event) IsAllDay() bool {
	return e.AllDay
}

func (e *Event) HasKnownTime() bool {
	return !e.StartTime.Equal(UnknownTime)
}

// IsOngoingAt reports whether t falls inside [StartTime, EndTime].
func (e *Event) IsOngoingAt(t time.Time) bool {
	if !e.HasKnownTime() {
		return false
	}
	return !t.Before(e.StartTime) && !t.After(e.EndTime)
}

func (e *Event) IsPastAt(t time.Time) bool {
	if e.EndTime.Equal(UnknownTime) {
		return false
	}
	return t.After(e.EndTime)
}

func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// TimeString renders the event's span for display.
func (e *Event) TimeString() string {
	if e.AllDay {
		return "All day"
	}
	if !e.HasKnownTime() {
		return "Unknown time"
	}

	start := e.StartTime.Local()
	end := e.EndTime.Local()
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return fmt.Sprintf("%s - %s", start.Format("15:04"), end.Format("15:04"))
	}
	return fmt.Sprintf("%s - %s", start.Format("Jan 2 15:04"), end.Format("Jan 2 15:04"))
}

// RelativeStart describes the start relative to now: "started", "in 12m",
// "in 3h", "tomorrow", "in 4d" or a date.
func (e *Event) RelativeStart(now time.Time) string {
	diff := e.StartTime.Sub(now)
	switch {
	case !e.HasKnownTime():
		return ""
	case diff < 0:
		return "started"
	case diff < time.Hour:
		return fmt.Sprintf("in %dm", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("in %dh", int(diff.Hours()))
	}

	tomorrow := TodayRange(now).End
	if !e.StartTime.Before(tomorrow) && e.StartTime.Before(tomorrow.AddDate(0, 0, 1)) {
		return "tomorrow"
	}
	if diff < 7*24*time.Hour {
		return fmt.Sprintf("in %dd", int(diff.Hours()/24))
	}
	return e.StartTime.Local().Format("Jan 2")
}

func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s (%s)", e.ID, e.Title, e.TimeString())
}
