// Package syncer drives calendar synchronization: one run at a time, each
// bounded by a timeout, optionally repeated on an interval.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/gcal-companion/internal/auth"
	"github.com/bnema/gcal-companion/internal/calendar"
	"github.com/bnema/gcal-companion/internal/security"
)

const (
	// DefaultTimeout bounds the wait for one fetch.
	DefaultTimeout = 10 * time.Second
	// DefaultInterval separates periodic runs.
	DefaultInterval = 30 * time.Minute
	// DefaultReminderLead is how long before an event a reminder fires.
	DefaultReminderLead = 15 * time.Minute

	subscriberBuffer = 16
)

// ErrSyncInProgress rejects a SyncOnce issued while another run is active.
var ErrSyncInProgress = errors.New("sync already in progress")

var errLoopStopped = errors.New("periodic sync stopped")

type Fetcher interface {
	FetchEvents(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error)
}

// EventStore receives the fetched list and returns it merged with local
// state.
type EventStore interface {
	SetEvents(events []calendar.Event) []calendar.Event
}

// Authenticator renews a lapsed session before each fetch. *auth.Session
// satisfies it.
type Authenticator interface {
	RefreshIfExpired(ctx context.Context) error
}

type ReminderScheduler interface {
	ScheduleReminders(events []calendar.Event, lead time.Duration) error
	CancelAll() error
}

// Status is the orchestrator's state between and during runs.
type Status int

const (
	Idle Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// RunStatus is the position of one SyncRun.
type RunStatus int

const (
	StatusStarted RunStatus = iota
	StatusCompleted
	StatusFailed
	StatusTimedOut
)

func (s RunStatus) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Run describes one synchronization attempt.
type Run struct {
	ID       string
	Trigger  string
	Status   RunStatus
	Started  time.Time
	Finished time.Time
}

// Result is published once when a run starts and once when it ends.
type Result struct {
	Run    Run
	Events []calendar.Event
	Err    error
}

type Option func(*Syncer)

// WithReminders hands successful results to scheduler when enabled.
func WithReminders(scheduler ReminderScheduler, enabled bool, lead time.Duration) Option {
	return func(s *Syncer) {
		s.reminders = scheduler
		s.remindersEnabled = enabled
		s.lead = lead
	}
}

// WithSession refreshes an expired access token at the start of every run.
func WithSession(a Authenticator) Option {
	return func(s *Syncer) { s.session = a }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) { s.timeout = d }
}

func WithInterval(d time.Duration) Option {
	return func(s *Syncer) { s.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func WithLogger(l *security.SecureLogger) Option {
	return func(s *Syncer) { s.logger = l }
}

type Syncer struct {
	fetcher Fetcher
	store   EventStore
	session Authenticator
	timeout time.Duration
	now     func() time.Time
	logger  *security.SecureLogger

	mu               sync.Mutex
	running          bool
	idle             chan struct{}
	interval         time.Duration
	reminders        ReminderScheduler
	remindersEnabled bool
	lead             time.Duration
	stopLoop         chan struct{}
	subscribers      map[int]chan Result
	nextSub          int
}

func New(fetcher Fetcher, store EventStore, opts ...Option) *Syncer {
	s := &Syncer{
		fetcher:     fetcher,
		store:       store,
		timeout:     DefaultTimeout,
		interval:    DefaultInterval,
		lead:        DefaultReminderLead,
		now:         time.Now,
		idle:        make(chan struct{}),
		subscribers: make(map[int]chan Result),
	}
	close(s.idle)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = security.NewSecureLogger(false)
	}
	return s
}

// Subscribe returns a channel receiving every start and end Result, and a
// function that detaches it. A subscriber that falls behind misses results
// rather than stalling a run.
func (s *Syncer) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Syncer) publish(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- r:
		default:
			s.logger.Warn("Dropping sync result for slow subscriber", "run_id", r.Run.ID, "status", r.Run.Status.String())
		}
	}
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return Running
	}
	return Idle
}

// Idle returns a channel that is closed once no run is active. It is
// already closed when the syncer is idle.
func (s *Syncer) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// SyncOnce fetches today's events and hands them to the store and, when
// enabled, the reminder scheduler. It returns ErrSyncInProgress without
// doing anything if a run is already active. The fetch is abandoned after
// the timeout and whatever it returns later is dropped.
func (s *Syncer) SyncOnce(ctx context.Context) (Result, error) {
	return s.syncOnce(ctx, "manual", nil)
}

// syncOnce refuses to start once stop is closed. StopPeriodic closes it
// under mu, so a run either starts before Idle is read or never.
func (s *Syncer) syncOnce(ctx context.Context, trigger string, stop <-chan struct{}) (Result, error) {
	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		return Result{}, errLoopStopped
	default:
	}
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrSyncInProgress
	}
	s.running = true
	s.idle = make(chan struct{})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.idle)
		s.mu.Unlock()
	}()

	run := Run{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Status:  StatusStarted,
		Started: s.now(),
	}
	log := s.logger.With("run_id", run.ID, "trigger", trigger)
	log.Info("Sync started")
	s.publish(Result{Run: run})

	events, err := s.fetch(ctx, calendar.TodayRange(run.Started))

	result := Result{Run: run}
	result.Run.Finished = s.now()
	switch {
	case err == nil:
		result.Run.Status = StatusCompleted
		result.Events = s.store.SetEvents(events)
		s.handOffReminders(log, result.Events)
		log.Info("Sync completed", "event_count", len(result.Events))
	case calendar.KindOf(err) == calendar.KindTimeout:
		result.Run.Status = StatusTimedOut
		result.Err = err
		log.Warn("Sync timed out", "timeout", s.timeout.String())
	default:
		result.Run.Status = StatusFailed
		result.Err = err
		log.Warn("Sync failed", "kind", calendar.KindOf(err).String(), "error", err)
	}

	s.publish(result)
	return result, result.Err
}

type fetchOutcome struct {
	events []calendar.Event
	err    error
}

func (s *Syncer) fetch(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error) {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Buffered so an abandoned fetch can still deliver and exit.
	done := make(chan fetchOutcome, 1)
	go func() {
		if err := s.refresh(fctx); err != nil {
			if fctx.Err() == nil {
				done <- fetchOutcome{err: err}
			}
			return
		}
		events, err := s.fetcher.FetchEvents(fctx, r)
		done <- fetchOutcome{events: events, err: err}
	}()

	select {
	case out := <-done:
		return out.events, out.err
	case <-fctx.Done():
		if ctx.Err() != nil {
			return nil, &calendar.Error{Kind: calendar.KindNetworkError, Op: "sync", Err: ctx.Err()}
		}
		return nil, &calendar.Error{Kind: calendar.KindTimeout, Op: "sync", Err: fctx.Err()}
	}
}

// refresh renews a lapsed access token. Without a refresh token the fetch
// goes ahead and reports AuthenticationRequired itself.
func (s *Syncer) refresh(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	err := s.session.RefreshIfExpired(ctx)
	switch {
	case err == nil, errors.Is(err, auth.ErrNoRefreshToken):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.logger.Warn("Token refresh before sync failed", "error", err)
		return &calendar.Error{Kind: calendar.KindAuthenticationRequired, Op: "sync", Err: err}
	}
}

func (s *Syncer) handOffReminders(log *security.SecureLogger, events []calendar.Event) {
	s.mu.Lock()
	scheduler, enabled, lead := s.reminders, s.remindersEnabled, s.lead
	s.mu.Unlock()

	if scheduler == nil || !enabled {
		return
	}
	if err := scheduler.ScheduleReminders(events, lead); err != nil {
		log.Warn("Failed to schedule reminders", "error", err)
	}
}

// SetReminders toggles the reminder hand-off. Disabling cancels anything
// already scheduled.
func (s *Syncer) SetReminders(enabled bool, lead time.Duration) error {
	s.mu.Lock()
	s.remindersEnabled = enabled
	if lead > 0 {
		s.lead = lead
	}
	scheduler := s.reminders
	s.mu.Unlock()

	if !enabled && scheduler != nil {
		return scheduler.CancelAll()
	}
	return nil
}

// SetInterval changes the delay used for the next periodic scheduling
// decision. A pending sleep keeps its original length.
func (s *Syncer) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

func (s *Syncer) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// StartPeriodic runs a sync immediately and then again every interval until
// StopPeriodic or ctx ends. A zero interval keeps the current one. Starting
// while already periodic replaces the previous loop.
func (s *Syncer) StartPeriodic(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if interval > 0 {
		s.interval = interval
	}
	if s.stopLoop != nil {
		close(s.stopLoop)
	}
	stop := make(chan struct{})
	s.stopLoop = stop
	s.mu.Unlock()

	s.logger.Info("Periodic sync started", "interval", s.Interval().String())
	go s.loop(ctx, stop)
}

// StopPeriodic disables periodic mode and cancels the pending sleep. A run
// already in progress finishes.
func (s *Syncer) StopPeriodic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLoop == nil {
		return
	}
	close(s.stopLoop)
	s.stopLoop = nil
	s.logger.Info("Periodic sync stopped")
}

func (s *Syncer) IsPeriodic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLoop != nil
}

func (s *Syncer) loop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		_, err := s.syncOnce(ctx, "periodic", stop)
		switch {
		case errors.Is(err, errLoopStopped):
			return
		case errors.Is(err, ErrSyncInProgress):
			s.logger.Debug("Periodic sync skipped, another run is active")
		}

		timer := time.NewTimer(s.Interval())
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
