package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/gcal-companion/internal/auth"
	"github.com/bnema/gcal-companion/internal/calendar"
)

type fetchFunc func(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error)

type fakeFetcher struct {
	calls atomic.Int32
	fn    fetchFunc
}

func (f *fakeFetcher) FetchEvents(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error) {
	f.calls.Add(1)
	return f.fn(ctx, r)
}

type fakeStore struct {
	mu        sync.Mutex
	completed map[string]bool
	sets      int
	last      []calendar.Event
}

func newFakeStore(completed ...string) *fakeStore {
	s := &fakeStore{completed: map[string]bool{}}
	for _, id := range completed {
		s.completed[id] = true
	}
	return s
}

func (s *fakeStore) SetEvents(events []calendar.Event) []calendar.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	merged := make([]calendar.Event, len(events))
	for i, e := range events {
		e.Completed = s.completed[e.ID]
		merged[i] = e
	}
	s.last = merged
	return merged
}

func (s *fakeStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled [][]calendar.Event
	lead      time.Duration
	cancels   int
}

func (f *fakeScheduler) ScheduleReminders(events []calendar.Event, lead time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, events)
	f.lead = lead
	return nil
}

func (f *fakeScheduler) CancelAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeScheduler) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled), f.cancels
}

// fakeSession holds an access token that lapses on expire and comes back
// through RefreshIfExpired while a refresh token is held.
type fakeSession struct {
	mu         sync.Mutex
	valid      bool
	hasRefresh bool
	refreshErr error
	refreshes  int
}

func (f *fakeSession) RefreshIfExpired(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.valid {
		return nil
	}
	if !f.hasRefresh {
		return auth.ErrNoRefreshToken
	}
	f.refreshes++
	if f.refreshErr != nil {
		f.hasRefresh = false
		return f.refreshErr
	}
	f.valid = true
	return nil
}

func (f *fakeSession) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = false
}

func (f *fakeSession) isValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakeSession) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// authedFetcher fails like the calendar client does without a valid token.
func authedFetcher(session *fakeSession) *fakeFetcher {
	return &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		if !session.isValid() {
			return nil, &calendar.Error{Kind: calendar.KindAuthenticationRequired, Op: "fetch events"}
		}
		return twoEvents(), nil
	}}
}

func twoEvents() []calendar.Event {
	start := time.Now().Add(time.Hour)
	return []calendar.Event{
		{ID: "a", Title: "Standup", StartTime: start, EndTime: start.Add(15 * time.Minute)},
		{ID: "b", Title: "Review", StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour)},
	}
}

func drain(ch <-chan Result) []Result {
	var out []Result
	for {
		select {
		case r := <-ch:
			out = append(out, r)
		default:
			return out
		}
	}
}

func TestSyncOnce_Success(t *testing.T) {
	fixed := time.Date(2024, 3, 11, 15, 4, 5, 0, time.Local)
	var gotRange calendar.TimeRange
	fetcher := &fakeFetcher{fn: func(_ context.Context, r calendar.TimeRange) ([]calendar.Event, error) {
		gotRange = r
		return twoEvents(), nil
	}}
	store := newFakeStore("b")
	scheduler := &fakeScheduler{}

	s := New(fetcher, store,
		WithClock(func() time.Time { return fixed }),
		WithReminders(scheduler, true, 10*time.Minute),
	)
	results, unsubscribe := s.Subscribe()
	defer unsubscribe()

	res, err := s.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, calendar.TodayRange(fixed), gotRange)
	assert.Equal(t, StatusCompleted, res.Run.Status)
	assert.Equal(t, "manual", res.Run.Trigger)
	require.Len(t, res.Events, 2)
	assert.False(t, res.Events[0].Completed)
	assert.True(t, res.Events[1].Completed, "completion flag merged from the store")

	_, err = uuid.Parse(res.Run.ID)
	assert.NoError(t, err)

	scheduled, _ := scheduler.counts()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 10*time.Minute, scheduler.lead)

	published := drain(results)
	require.Len(t, published, 2)
	assert.Equal(t, StatusStarted, published[0].Run.Status)
	assert.Equal(t, StatusCompleted, published[1].Run.Status)
	assert.Equal(t, res.Run.ID, published[0].Run.ID)
	assert.Equal(t, Idle, s.Status())
}

func TestSyncOnce_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		<-release
		return twoEvents(), nil
	}}
	s := New(fetcher, newFakeStore())
	results, unsubscribe := s.Subscribe()
	defer unsubscribe()

	first := make(chan error, 1)
	go func() {
		_, err := s.SyncOnce(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return s.Status() == Running }, time.Second, time.Millisecond)

	_, err := s.SyncOnce(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-first)

	assert.EqualValues(t, 1, fetcher.calls.Load())
	var started int
	for _, r := range drain(results) {
		if r.Run.Status == StatusStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestSyncOnce_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var slow atomic.Bool
	slow.Store(true)
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		if slow.Load() {
			// Ignores cancellation, like I/O that cannot be interrupted.
			<-release
		}
		return twoEvents(), nil
	}}
	store := newFakeStore()
	scheduler := &fakeScheduler{}
	s := New(fetcher, store, WithTimeout(50*time.Millisecond), WithReminders(scheduler, true, time.Minute))

	res, err := s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, calendar.ErrTimeout)
	assert.Equal(t, StatusTimedOut, res.Run.Status)
	assert.Equal(t, Idle, s.Status())
	assert.Equal(t, 0, store.Sets())

	slow.Store(false)
	res, err = s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Run.Status)
	assert.Equal(t, 1, store.Sets())
}

func TestSyncOnce_LateResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	returned := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		<-release
		defer close(returned)
		return twoEvents(), nil
	}}
	store := newFakeStore()
	s := New(fetcher, store, WithTimeout(20*time.Millisecond))

	_, err := s.SyncOnce(context.Background())
	require.ErrorIs(t, err, calendar.ErrTimeout)

	close(release)
	<-returned
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, store.Sets())
}

func TestSyncOnce_FailureIsReported(t *testing.T) {
	denied := &calendar.Error{Kind: calendar.KindAuthorizationDenied, Status: 403}
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		return nil, denied
	}}
	store := newFakeStore()
	scheduler := &fakeScheduler{}
	s := New(fetcher, store, WithReminders(scheduler, true, time.Minute))
	results, unsubscribe := s.Subscribe()
	defer unsubscribe()

	res, err := s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, calendar.ErrAuthorizationDenied)
	assert.Equal(t, StatusFailed, res.Run.Status)
	assert.Equal(t, 0, store.Sets())
	scheduled, _ := scheduler.counts()
	assert.Equal(t, 0, scheduled)

	published := drain(results)
	require.Len(t, published, 2)
	assert.Equal(t, StatusFailed, published[1].Run.Status)
	assert.True(t, errors.Is(published[1].Err, calendar.ErrAuthorizationDenied))

	// The orchestrator is reusable after a failure.
	assert.Equal(t, Idle, s.Status())
}

func TestSetReminders(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		return twoEvents(), nil
	}}
	scheduler := &fakeScheduler{}
	s := New(fetcher, newFakeStore(), WithReminders(scheduler, true, time.Minute))

	require.NoError(t, s.SetReminders(false, 0))
	_, cancels := scheduler.counts()
	assert.Equal(t, 1, cancels)

	_, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	scheduled, _ := scheduler.counts()
	assert.Equal(t, 0, scheduled)

	require.NoError(t, s.SetReminders(true, 5*time.Minute))
	_, err = s.SyncOnce(context.Background())
	require.NoError(t, err)
	scheduled, _ = scheduler.counts()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 5*time.Minute, scheduler.lead)
}

func TestPeriodic_RunsUntilStopped(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		return nil, nil
	}}
	s := New(fetcher, newFakeStore())

	s.StartPeriodic(context.Background(), 10*time.Millisecond)
	assert.True(t, s.IsPeriodic())
	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 3 }, time.Second, time.Millisecond)

	s.StopPeriodic()
	assert.False(t, s.IsPeriodic())
	require.Eventually(t, func() bool { return s.Status() == Idle }, time.Second, time.Millisecond)

	stopped := fetcher.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, fetcher.calls.Load())
}

func TestPeriodic_StopLetsRunFinish(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		<-release
		return twoEvents(), nil
	}}
	store := newFakeStore()
	s := New(fetcher, store)
	results, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.StartPeriodic(context.Background(), time.Hour)
	require.Eventually(t, func() bool { return s.Status() == Running }, time.Second, time.Millisecond)

	s.StopPeriodic()
	close(release)

	require.Eventually(t, func() bool { return store.Sets() == 1 }, time.Second, time.Millisecond)
	var completed int
	require.Eventually(t, func() bool {
		for _, r := range drain(results) {
			if r.Run.Status == StatusCompleted {
				assert.Equal(t, "periodic", r.Run.Trigger)
				completed++
			}
		}
		return completed == 1
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestPeriodic_IntervalChangeAppliesToNextDecision(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{}
	fetcher.fn = func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		if fetcher.calls.Load() == 1 {
			<-gate
		}
		return nil, nil
	}
	s := New(fetcher, newFakeStore())

	s.StartPeriodic(context.Background(), 5*time.Millisecond)
	defer s.StopPeriodic()
	require.Eventually(t, func() bool { return s.Status() == Running }, time.Second, time.Millisecond)

	s.SetInterval(time.Hour)
	assert.Equal(t, time.Hour, s.Interval())
	close(gate)

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestPeriodic_RestartReplacesLoop(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		return nil, nil
	}}
	s := New(fetcher, newFakeStore())

	s.StartPeriodic(context.Background(), time.Hour)
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 && s.Status() == Idle }, time.Second, time.Millisecond)

	s.StartPeriodic(context.Background(), time.Hour)
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, time.Millisecond)

	s.StopPeriodic()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestPeriodic_ContextCancelEndsLoop(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		return nil, nil
	}}
	s := New(fetcher, newFakeStore())

	ctx, cancel := context.WithCancel(context.Background())
	s.StartPeriodic(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()

	time.Sleep(20 * time.Millisecond)
	calls := fetcher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fetcher.calls.Load())
}

func TestSyncOnce_RefreshesExpiredSessionEachRun(t *testing.T) {
	session := &fakeSession{hasRefresh: true}
	fetcher := authedFetcher(session)
	s := New(fetcher, newFakeStore(), WithSession(session))

	for i := 0; i < 3; i++ {
		session.expire()
		result, err := s.SyncOnce(context.Background())
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, StatusCompleted, result.Run.Status)
	}

	assert.Equal(t, 3, session.refreshCount())
	assert.EqualValues(t, 3, fetcher.calls.Load())
}

func TestSyncOnce_ValidSessionIsNotRefreshed(t *testing.T) {
	session := &fakeSession{valid: true, hasRefresh: true}
	s := New(authedFetcher(session), newFakeStore(), WithSession(session))

	_, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, session.refreshCount())
}

func TestSyncOnce_ExpiredWithoutRefreshToken(t *testing.T) {
	session := &fakeSession{}
	fetcher := authedFetcher(session)
	s := New(fetcher, newFakeStore(), WithSession(session))

	result, err := s.SyncOnce(context.Background())
	assert.Equal(t, calendar.KindAuthenticationRequired, calendar.KindOf(err))
	assert.Equal(t, StatusFailed, result.Run.Status)
	assert.EqualValues(t, 1, fetcher.calls.Load(), "the fetch reports the missing token itself")
}

func TestSyncOnce_RejectedRefresh(t *testing.T) {
	session := &fakeSession{hasRefresh: true, refreshErr: auth.ErrRefreshFailed}
	fetcher := authedFetcher(session)
	store := newFakeStore()
	s := New(fetcher, store, WithSession(session))

	result, err := s.SyncOnce(context.Background())
	assert.ErrorIs(t, err, calendar.ErrAuthenticationRequired)
	assert.ErrorIs(t, err, auth.ErrRefreshFailed)
	assert.Equal(t, StatusFailed, result.Run.Status)
	assert.Zero(t, fetcher.calls.Load())
	assert.Zero(t, store.Sets())
}

func TestPeriodic_RefreshesBetweenRuns(t *testing.T) {
	session := &fakeSession{hasRefresh: true}
	fetcher := authedFetcher(session)
	store := newFakeStore()
	s := New(fetcher, store, WithSession(session))

	s.StartPeriodic(context.Background(), time.Millisecond)
	defer s.StopPeriodic()

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return session.refreshCount() >= i }, time.Second, time.Millisecond)
		session.expire()
	}
	require.Eventually(t, func() bool { return store.Sets() >= 3 }, time.Second, time.Millisecond)
}

func TestIdle(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		<-release
		return twoEvents(), nil
	}}
	s := New(fetcher, newFakeStore())

	select {
	case <-s.Idle():
	default:
		t.Fatal("a fresh syncer should be idle")
	}

	go func() { _, _ = s.SyncOnce(context.Background()) }()
	require.Eventually(t, func() bool { return s.Status() == Running }, time.Second, time.Millisecond)

	idle := s.Idle()
	select {
	case <-idle:
		t.Fatal("Idle closed while a run is active")
	default:
	}

	close(release)
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("Idle not closed after the run finished")
	}
	assert.Equal(t, Idle, s.Status())
}

func TestStopPeriodic_NoRunStartsAfterIdle(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, calendar.TimeRange) ([]calendar.Event, error) {
		return nil, nil
	}}
	s := New(fetcher, newFakeStore())

	stop := make(chan struct{})
	close(stop)
	_, err := s.syncOnce(context.Background(), "periodic", stop)
	assert.ErrorIs(t, err, errLoopStopped)
	assert.EqualValues(t, 0, fetcher.calls.Load())

	s.StartPeriodic(context.Background(), time.Millisecond)
	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 2 }, time.Second, time.Millisecond)
	s.StopPeriodic()
	<-s.Idle()

	calls := fetcher.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fetcher.calls.Load())
	assert.Equal(t, Idle, s.Status())
}
