package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/gcal-companion/internal/calendar"
	"github.com/bnema/gcal-companion/internal/logger"
	"github.com/bnema/gcal-companion/internal/nerdfonts"
	"github.com/bnema/gcal-companion/internal/syncer"
)

var (
	watchFlag    bool
	intervalFlag int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch today's events into the local cache",
	Long: `Fetch today's events from Google Calendar and store them in the local cache.
Completion marks survive every sync.

With --watch the command keeps running, syncs every sync.interval_minutes and
sends a desktop reminder notifications.minutes_before minutes ahead of each
upcoming event.
Stop it with Ctrl+C or SIGTERM; a sync in progress is allowed to finish.

Examples:
  gcal-companion sync                 # One-shot sync
  gcal-companion sync --watch         # Keep syncing and send reminders
  gcal-companion sync --watch -i 10   # Sync every 10 minutes`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "keep syncing periodically until interrupted")
	syncCmd.Flags().IntVarP(&intervalFlag, "interval", "i", 0, "minutes between syncs in watch mode (default from config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	eventCache, err := loadCache()
	if err != nil {
		return err
	}

	if n, err := eventCache.ClearOldCompletions(time.Now()); err != nil {
		logger.Warn("failed to clear old completions", "error", err)
	} else if n > 0 {
		logger.Debug("cleared old completions", "count", n)
	}

	s, reminders, err := newSyncer(session, eventCache, watchFlag)
	if err != nil {
		return err
	}

	if !watchFlag {
		result, err := syncNow(cmd.Context(), s)
		if err != nil {
			return err
		}
		fmt.Printf("%s Synced %d events (%d completed)\n", nerdfonts.CalendarCheck,
			len(result.Events), eventCache.TodayCompletedCount(time.Now()))
		return nil
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, unsubscribe := s.Subscribe()
	defer unsubscribe()
	go printResults(results)

	interval := s.Interval()
	if intervalFlag > 0 {
		interval = time.Duration(intervalFlag) * time.Minute
	}

	fmt.Printf("%s Watching calendar every %s (Ctrl+C to stop)\n", nerdfonts.Sync, interval)
	// A signal stops the loop; a fetch in flight keeps the command context.
	s.StartPeriodic(cmd.Context(), interval)

	<-sigCtx.Done()
	s.StopPeriodic()
	<-s.Idle()
	if err := reminders.CancelAll(); err != nil {
		logger.Warn("failed to cancel reminders", "error", err)
	}
	fmt.Printf("%s Stopped\n", nerdfonts.BellSlash)
	return nil
}

// syncNow runs one sync. An expired session is refreshed by the syncer
// first.
func syncNow(ctx context.Context, s *syncer.Syncer) (syncer.Result, error) {
	result, err := s.SyncOnce(ctx)
	if err != nil {
		if errors.Is(err, calendar.ErrAuthenticationRequired) {
			return result, fmt.Errorf("%w (run 'gcal-companion auth')", err)
		}
		return result, fmt.Errorf("sync failed: %w", err)
	}
	return result, nil
}

func printResults(results <-chan syncer.Result) {
	for r := range results {
		stamp := r.Run.Started.Local().Format("15:04")
		switch r.Run.Status {
		case syncer.StatusStarted:
			logger.Debug("sync started", "run_id", r.Run.ID, "trigger", r.Run.Trigger)
		case syncer.StatusCompleted:
			fmt.Printf("[%s] %s %d events\n", stamp, nerdfonts.CalendarCheck, len(r.Events))
		default:
			fmt.Printf("[%s] %s sync %s: %v\n", stamp, nerdfonts.ExclamationTriangle, r.Run.Status, r.Err)
		}
	}
}
