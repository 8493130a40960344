package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/gcal-companion/internal/cache"
	"github.com/bnema/gcal-companion/internal/nerdfonts"
)

var completeCmd = &cobra.Command{
	Use:   "complete <event-id>",
	Short: "Toggle the done mark of a cached event",
	Long: `Mark a cached event as done, or undo the mark. The flag is local: it is
kept across syncs and never sent to Google Calendar.

Event IDs are listed by 'gcal-companion status'.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	eventCache, err := loadCache()
	if err != nil {
		return err
	}

	eventID := args[0]
	done, err := eventCache.ToggleCompletion(eventID)
	if errors.Is(err, cache.ErrEventNotFound) {
		return fmt.Errorf("no cached event with id %q (run 'gcal-companion sync' first?)", eventID)
	}
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	event, _ := eventCache.GetEventByID(eventID)
	if done {
		fmt.Printf("%s Done: %s\n", nerdfonts.CheckCircle, event.Title)
	} else {
		fmt.Printf("%s Not done: %s\n", nerdfonts.Circle, event.Title)
	}
	return nil
}
