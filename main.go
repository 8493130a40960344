package main

import (
	"os"
	"path/filepath"

	"github.com/subosito/gotenv"

	"github.com/bnema/gcal-companion/cmd"
	"github.com/bnema/gcal-companion/internal/logger"
)

// Build-time variables injected by ldflags
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildTime  = "unknown"
)

func main() {
	// Load .env file if present so GCAL_* overrides can live next to the project
	// or in the config dir. First one found wins.
	tryPaths := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		tryPaths = append(tryPaths, filepath.Join(home, ".config", "gcal-companion", ".env"))
	}
	for _, p := range tryPaths {
		if _, err := os.Stat(p); err == nil {
			if loadErr := gotenv.Load(p); loadErr == nil {
				break
			}
		}
	}

	cmd.SetVersionInfo(Version, CommitHash, BuildTime)

	if err := cmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
