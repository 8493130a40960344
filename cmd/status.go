package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/gcal-companion/internal/auth"
	"github.com/bnema/gcal-companion/internal/calendar"
	"github.com/bnema/gcal-companion/internal/logger"
	"github.com/bnema/gcal-companion/internal/nerdfonts"
)

var offlineFlag bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication, cache and today's agenda",
	Long: `Display the current state of gcal-companion:
- Authentication status
- Cache location and last sync time
- Today's events with their completion marks and IDs

When sync.auto_sync is enabled and the cache is older than the sync interval,
a sync runs first. Use --offline to show the cache as is.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&offlineFlag, "offline", false, "do not sync, show cached data only")
}

func runStatus(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	fmt.Println("=== Calendar Status ===")
	printAuthStatus(session)

	eventCache, err := loadCache()
	if err != nil {
		fmt.Printf("%s %v\n", nerdfonts.ExclamationTriangle, err)
		return nil
	}

	now := time.Now()
	if _, err := eventCache.ClearOldCompletions(now); err != nil {
		logger.Warn("failed to clear old completions", "error", err)
	}

	stale := now.Sub(eventCache.LastSyncTime()) > cfg.SyncInterval()
	canSync := session.State() != auth.Unauthenticated && cfg.RequireClientID() == nil
	if cfg.Sync.AutoSync && !offlineFlag && stale && canSync {
		s, _, err := newSyncer(session, eventCache, false)
		if err != nil {
			return err
		}
		if _, err := syncNow(cmd.Context(), s); err != nil {
			fmt.Printf("%s %v, showing cached data\n", nerdfonts.ExclamationTriangle, err)
		}
	}

	fmt.Println("\n=== Cache Status ===")
	fmt.Printf("Cache directory: %s\n", eventCache.GetCacheDir())
	fmt.Printf("Cache file: %s\n", eventCache.GetFilePath())
	fmt.Printf("Cached events: %d\n", eventCache.EventCount())

	if lastSync := eventCache.LastSyncTime(); !lastSync.IsZero() {
		fmt.Printf("Last sync: %s (%s ago)\n",
			lastSync.Local().Format(time.DateTime),
			time.Since(lastSync).Truncate(time.Second))
	} else {
		fmt.Println("Last sync: Never")
	}

	if cfg.Notifications.Enabled {
		fmt.Printf("%s Reminders: %d minutes before (active while 'sync --watch' runs)\n",
			nerdfonts.Bell, cfg.Notifications.MinutesBefore)
	} else {
		fmt.Printf("%s Reminders: disabled\n", nerdfonts.BellSlash)
	}

	fmt.Println("\n=== Today's Events ===")
	today := eventCache.TodayEvents(now)
	if len(today) == 0 {
		fmt.Printf("%s No events today\n", nerdfonts.Calendar)
		return nil
	}

	ongoing := 0
	for _, event := range today {
		if event.IsOngoingAt(now) && !event.Completed {
			ongoing++
		}
		fmt.Printf("%s %-13s %s%s\n", eventMark(event, now), event.TimeString(), event.Title, eventState(event, now))
		if event.Location != "" {
			fmt.Printf("    %s %s\n", nerdfonts.MapPin, event.Location)
		}
		fmt.Printf("    id: %s\n", event.ID)
	}

	fmt.Printf("\nSummary: %d of %d done, %d in progress\n",
		eventCache.TodayCompletedCount(now), len(today), ongoing)
	return nil
}

func eventMark(event calendar.Event, now time.Time) string {
	switch {
	case event.Completed:
		return nerdfonts.CheckCircle
	case event.IsOngoingAt(now):
		return nerdfonts.Clock
	default:
		return nerdfonts.Circle
	}
}

func eventState(event calendar.Event, now time.Time) string {
	switch {
	case event.Completed:
		return ""
	case event.IsAllDay():
		return ""
	case event.IsPastAt(now):
		return " (missed)"
	case event.IsOngoingAt(now):
		return " (now)"
	default:
		return " (" + event.RelativeStart(now) + ")"
	}
}
