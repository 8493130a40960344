package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/gcal-companion/internal/auth"
	"github.com/bnema/gcal-companion/internal/cache"
	"github.com/bnema/gcal-companion/internal/calendar"
	"github.com/bnema/gcal-companion/internal/config"
	"github.com/bnema/gcal-companion/internal/logger"
	"github.com/bnema/gcal-companion/internal/notifier"
	"github.com/bnema/gcal-companion/internal/security"
	"github.com/bnema/gcal-companion/internal/syncer"
	"github.com/bnema/gcal-companion/internal/tokenstore"
)

const httpTimeout = 30 * time.Second

var (
	cacheDir string
	verbose  bool
	cfgFile  string
	cfg      *config.Config

	// Version information
	version    string
	commitHash string
	buildTime  string
)

var rootCmd = &cobra.Command{
	Use:   "gcal-companion",
	Short: "Today's Google Calendar agenda in your terminal, with reminders",
	Long: `gcal-companion signs in to Google Calendar with OAuth 2.0 (PKCE), keeps
today's events in a local cache, lets you tick events off as done and sends
desktop reminders before upcoming events.

Run 'gcal-companion auth' once, then 'gcal-companion sync --watch' to keep
the agenda fresh in the background.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, commit, buildTimeStr string) {
	version = v
	commitHash = commit
	buildTime = buildTimeStr

	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commitHash, buildTime)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default: ~/.cache/gcal-companion)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file or directory (default is $HOME/.config/gcal-companion/config.toml)")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(exportCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	logger.Init(verbose)

	if cacheDir == "" {
		defaultCacheDir, err := cache.GetDefaultCacheDir()
		if err != nil {
			return fmt.Errorf("error getting default cache directory: %w", err)
		}
		cacheDir = defaultCacheDir
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger.Debug("configuration loaded", "cache_dir", cacheDir, "calendar_id", cfg.API.CalendarID)
	return nil
}

func authConfig() auth.Config {
	return auth.Config{
		ClientID:    cfg.OAuth.ClientID,
		RedirectURI: cfg.OAuth.RedirectURI,
		Scopes:      cfg.OAuth.Scopes,
		AuthURL:     cfg.OAuth.AuthURL,
		TokenURL:    cfg.OAuth.TokenURL,
	}
}

func secureLogger() *security.SecureLogger {
	return security.NewSecureLogger(verbose)
}

// newSession restores the single auth session from the token store in the
// cache directory.
func newSession() (*auth.Session, error) {
	log := secureLogger()
	store, err := tokenstore.NewFileStore(cacheDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	return auth.New(authConfig(), store,
		auth.WithLogger(log),
		auth.WithHTTPClient(security.NewHTTPClient(httpTimeout)),
	), nil
}

func loadCache() (*cache.Cache, error) {
	eventCache := cache.New(cacheDir)
	if err := eventCache.Load(); err != nil {
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}
	return eventCache, nil
}

// newSyncer wires session, fetch client, cache and reminder scheduler.
// Reminders are armed only for long-running commands.
func newSyncer(session *auth.Session, eventCache *cache.Cache, withReminders bool) (*syncer.Syncer, *notifier.Scheduler, error) {
	client, err := calendar.NewClient(session,
		calendar.WithBaseURL(cfg.API.BaseURL),
		calendar.WithCalendarID(cfg.API.CalendarID),
		calendar.WithHTTPClient(security.NewHTTPClient(httpTimeout)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize calendar client: %w", err)
	}

	reminders := notifier.New()
	s := syncer.New(client, eventCache,
		syncer.WithSession(session),
		syncer.WithReminders(reminders, withReminders && cfg.Notifications.Enabled, cfg.ReminderLead()),
		syncer.WithInterval(cfg.SyncInterval()),
		syncer.WithLogger(secureLogger()),
	)
	return s, reminders, nil
}
