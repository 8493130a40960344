package cache

import (
	"sort"
	"time"

	"github.com/bnema/gcal-companion/internal/calendar"
)

// TodayEvents returns the cached events whose start falls on now's local
// day, ordered by start.
func (c *Cache) TodayEvents(now time.Time) []calendar.Event {
	day := calendar.TodayRange(now)
	return c.filter(func(e calendar.Event) bool {
		return e.HasKnownTime() && !e.StartTime.Before(day.Start) && e.StartTime.Before(day.End)
	})
}

// AllEvents returns every cached event ordered by start.
func (c *Cache) AllEvents() []calendar.Event {
	return c.filter(func(calendar.Event) bool { return true })
}

// IncompleteEvents returns the events neither completed nor over at now.
func (c *Cache) IncompleteEvents(now time.Time) []calendar.Event {
	return c.filter(func(e calendar.Event) bool {
		return !e.Completed && !e.IsPastAt(now)
	})
}

// OngoingEvents returns the events in progress at now.
func (c *Cache) OngoingEvents(now time.Time) []calendar.Event {
	return c.filter(func(e calendar.Event) bool {
		return e.IsOngoingAt(now)
	})
}

func (c *Cache) CompletedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.Events {
		if e.Completed {
			n++
		}
	}
	return n
}

func (c *Cache) TodayCompletedCount(now time.Time) int {
	n := 0
	for _, e := range c.TodayEvents(now) {
		if e.Completed {
			n++
		}
	}
	return n
}

func (c *Cache) GetEventByID(eventID string) (calendar.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if idx := c.indexLocked(eventID); idx >= 0 {
		return c.Events[idx], true
	}
	return calendar.Event{}, false
}

func (c *Cache) HasEvents() bool {
	return c.EventCount() > 0
}

func (c *Cache) EventCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Events)
}

func (c *Cache) filter(keep func(calendar.Event) bool) []calendar.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []calendar.Event
	for _, e := range c.Events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}
