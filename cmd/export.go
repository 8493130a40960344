package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/gcal-companion/internal/export"
	"github.com/bnema/gcal-companion/internal/logger"
)

var (
	outputPath string
	exportAll  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write cached events as iCalendar",
	Long: `Write today's cached events as an iCalendar (.ics) file, for import into
other calendar tools. Done marks are kept in an X-GCAL-COMPANION-COMPLETED
property.

Examples:
  gcal-companion export                     # Print to stdout
  gcal-companion export -o today.ics        # Write to a file`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every cached event, not only today's")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	eventCache, err := loadCache()
	if err != nil {
		return err
	}

	if !eventCache.HasEvents() {
		return fmt.Errorf("cache is empty (run 'gcal-companion sync' first)")
	}

	events := eventCache.TodayEvents(time.Now())
	if exportAll {
		events = eventCache.AllEvents()
	}

	var w io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, ferr := os.Create(outputPath)
		if ferr != nil {
			return fmt.Errorf("failed to create output file: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close output file: %w", cerr)
			}
		}()
		w = f
	}

	n, err := export.WriteICS(w, events)
	if err != nil {
		return err
	}

	logger.Info("calendar exported", "events", n, "output", outputPath)
	if outputPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events to %s\n", n, outputPath)
	}
	return nil
}
