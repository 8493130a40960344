package notifier

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/gcal-companion/internal/calendar"
)

type recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recorder) Send(n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

func newTestScheduler(now time.Time) (*Scheduler, *recorder) {
	rec := &recorder{}
	return New(WithSender(rec.Send), WithClock(func() time.Time { return now })), rec
}

func TestScheduleReminders_FiltersEvents(t *testing.T) {
	now := time.Now()
	lead := 15 * time.Minute
	upcoming := now.Add(time.Hour)

	events := []calendar.Event{
		{ID: "ok", Title: "Planning", StartTime: upcoming, EndTime: upcoming.Add(time.Hour)},
		{ID: "done", Title: "Done", StartTime: upcoming, EndTime: upcoming.Add(time.Hour), Completed: true},
		{ID: "past", Title: "Past", StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)},
		{ID: "too-close", Title: "Soon", StartTime: now.Add(5 * time.Minute), EndTime: now.Add(time.Hour)},
		{ID: "all-day", Title: "Holiday", StartTime: upcoming, EndTime: upcoming.AddDate(0, 0, 1), AllDay: true},
		{ID: "unknown", Title: "Floating"},
	}

	s, _ := newTestScheduler(now)
	defer s.CancelAll()

	require.NoError(t, s.ScheduleReminders(events, lead))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.ScheduleReminders(events[:1], lead))
	assert.Equal(t, 1, s.Pending(), "rescheduling replaces earlier reminders")
}

func TestScheduleReminders_Fires(t *testing.T) {
	now := time.Now()
	lead := 15 * time.Minute
	start := now.Add(lead + 20*time.Millisecond)

	s, rec := newTestScheduler(now)
	event := calendar.Event{ID: "a", Title: "Design review", Location: "Room 4", StartTime: start, EndTime: start.Add(30 * time.Minute)}
	require.NoError(t, s.ScheduleReminders([]calendar.Event{event}, lead))

	require.Eventually(t, func() bool { return len(rec.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	n := rec.Sent()[0]
	assert.Contains(t, n.Title, "Design review in 15 minutes")
	assert.Contains(t, n.Message, "Room 4")
	assert.Equal(t, "low", n.Urgency)
	assert.Equal(t, 0, s.Pending())
}

func TestCancelAll(t *testing.T) {
	now := time.Now()
	start := now.Add(time.Minute + 20*time.Millisecond)

	s, rec := newTestScheduler(now)
	require.NoError(t, s.ScheduleReminders([]calendar.Event{
		{ID: "a", Title: "x", StartTime: start, EndTime: start.Add(time.Minute)},
	}, time.Minute))
	require.Equal(t, 1, s.Pending())

	require.NoError(t, s.CancelAll())
	assert.Equal(t, 0, s.Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.Sent())
}

func TestEventReminder(t *testing.T) {
	start := time.Date(2024, 3, 11, 9, 0, 0, 0, time.Local)
	long := calendar.Event{
		Title:     strings.Repeat("w", 40),
		StartTime: start,
		EndTime:   start.Add(150 * time.Minute),
	}

	n := EventReminder(long, 5*time.Minute)
	assert.Equal(t, "normal", n.Urgency)
	assert.Contains(t, n.Title, strings.Repeat("w", 27)+"...")
	assert.Contains(t, n.Message, "09:00 - 11:30")
	assert.Contains(t, n.Message, "2.5h")

	now := EventReminder(long, 0)
	assert.Equal(t, "critical", now.Urgency)
	assert.Contains(t, now.Title, "starting now")
}
