package notifier

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bnema/gcal-companion/internal/calendar"
	"github.com/bnema/gcal-companion/internal/logger"
	"github.com/bnema/gcal-companion/internal/nerdfonts"
)

// Notification is one desktop notification.
type Notification struct {
	Title   string
	Message string
	Urgency string
}

// SendFunc delivers a notification.
type SendFunc func(n Notification) error

type Option func(*Scheduler)

// WithSender replaces notify-send.
func WithSender(send SendFunc) Option {
	return func(s *Scheduler) { s.send = send }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler arms one timer per upcoming event and fires a desktop
// notification lead before it starts.
type Scheduler struct {
	send SendFunc
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	gen     int
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		send:    sendNotifyNotification,
		now:     time.Now,
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleReminders replaces every pending reminder with one per event that
// is not completed, not over, and whose reminder time is still ahead.
func (s *Scheduler) ScheduleReminders(events []calendar.Event, lead time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	now := s.now()
	for _, event := range events {
		if event.Completed || event.AllDay || !event.HasKnownTime() || event.IsPastAt(now) {
			continue
		}
		fireAt := event.StartTime.Add(-lead)
		if !fireAt.After(now) {
			continue
		}

		if old, ok := s.pending[event.ID]; ok {
			old.Stop()
		}
		event, gen := event, s.gen
		s.pending[event.ID] = time.AfterFunc(fireAt.Sub(now), func() {
			s.fire(event, lead, gen)
		})
	}

	logger.Info("reminders scheduled", "count", len(s.pending), "lead", lead)
	return nil
}

// CancelAll stops every pending reminder.
func (s *Scheduler) CancelAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	return nil
}

// Pending returns the number of armed reminders.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) cancelLocked() {
	s.gen++
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

func (s *Scheduler) fire(event calendar.Event, lead time.Duration, gen int) {
	s.mu.Lock()
	if gen != s.gen {
		// Cancelled after the timer had already fired.
		s.mu.Unlock()
		return
	}
	delete(s.pending, event.ID)
	s.mu.Unlock()

	if err := s.send(EventReminder(event, lead)); err != nil {
		logger.Warn("failed to send reminder", "event_id", event.ID, "error", err)
	}
}

// EventReminder builds the notification for event starting in lead.
func EventReminder(event calendar.Event, lead time.Duration) Notification {
	minutes := int(lead.Minutes())

	var title string
	if minutes <= 0 {
		title = fmt.Sprintf("%s %s starting now", nerdfonts.CalendarDay, shortTitle(event.Title))
	} else {
		title = fmt.Sprintf("%s %s in %d minutes", nerdfonts.CalendarClock, shortTitle(event.Title), minutes)
	}

	return Notification{
		Title:   title,
		Message: formatEventMessage(event),
		Urgency: urgency(minutes),
	}
}

func formatEventMessage(event calendar.Event) string {
	parts := []string{fmt.Sprintf("%s %s", nerdfonts.Clock, event.TimeString())}

	if event.Location != "" {
		parts = append(parts, fmt.Sprintf("%s %s", nerdfonts.MapPin, event.Location))
	}

	if d := event.Duration(); d >= 2*time.Hour {
		parts = append(parts, fmt.Sprintf("%s %s", nerdfonts.Hourglass, formatDuration(d)))
	}

	return strings.Join(parts, "\n")
}

func formatDuration(duration time.Duration) string {
	if duration < time.Hour {
		return fmt.Sprintf("%.0fm", duration.Minutes())
	}

	hours := duration.Hours()
	if hours < 24 {
		if hours == float64(int(hours)) {
			return fmt.Sprintf("%.0fh", hours)
		}
		return fmt.Sprintf("%.1fh", hours)
	}
	return fmt.Sprintf("%.1fd", hours/24)
}

func urgency(minutesBefore int) string {
	switch {
	case minutesBefore <= 0:
		return "critical"
	case minutesBefore <= 5:
		return "normal"
	default:
		return "low"
	}
}

func shortTitle(title string) string {
	r := []rune(title)
	if len(r) <= 30 {
		return title
	}
	return string(r[:27]) + "..."
}

func sendNotifyNotification(n Notification) error {
	args := []string{
		"--app-name=gcal-companion",
		"--urgency=" + n.Urgency,
		n.Title,
		n.Message,
	}

	cmd := exec.Command("notify-send", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("notify-send failed: %w, output: %s", err, string(output))
	}
	return nil
}
