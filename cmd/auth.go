package cmd

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/gcal-companion/internal/auth"
	"github.com/bnema/gcal-companion/internal/nerdfonts"
)

var (
	logoutFlag  bool
	statusOnly  bool
	redirectURL string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Google Calendar authentication",
	Long: `Authenticate with Google Calendar using the OAuth 2.0 authorization code
flow with PKCE.

The command prints an authorization URL. Open it in a browser, approve access,
then paste the full URL the browser was redirected to (it contains code=...).

Examples:
  gcal-companion auth                                  # Interactive sign-in
  gcal-companion auth --redirect-url 'http://127.0.0.1:8085/oauth2redirect?code=...'
  gcal-companion auth --status                         # Check authentication status
  gcal-companion auth --logout                         # Forget stored tokens`,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().BoolVar(&logoutFlag, "logout", false, "clear local authentication")
	authCmd.Flags().BoolVar(&statusOnly, "status", false, "check authentication status only")
	authCmd.Flags().StringVar(&redirectURL, "redirect-url", "", "redirect URL captured after consent (read from stdin when empty)")
}

func runAuth(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}

	if statusOnly {
		printAuthStatus(session)
		return nil
	}

	if logoutFlag {
		if err := session.Logout(); err != nil {
			return fmt.Errorf("failed to clear authentication: %w", err)
		}
		fmt.Printf("%s Authentication cleared\n", nerdfonts.CheckCircle)
		return nil
	}

	if err := cfg.RequireClientID(); err != nil {
		return err
	}

	if session.IsAuthenticated() && redirectURL == "" {
		fmt.Printf("%s Already authenticated with Google Calendar\n", nerdfonts.CheckCircle)
		fmt.Println("Use --logout to sign in again or --status to check status")
		return nil
	}

	authURL, err := session.BeginAuthorization()
	if err != nil {
		return err
	}

	if redirectURL == "" {
		fmt.Printf("%s Open this URL in your browser and approve access:\n\n", nerdfonts.Calendar)
		fmt.Println(authURL)
		fmt.Println()
		fmt.Print("Paste the URL you were redirected to: ")

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read redirect URL: %w", err)
		}
		redirectURL = strings.TrimSpace(line)
	}

	if err := session.CompleteAuthorization(cmd.Context(), redirectURL); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Printf("%s Authentication successful!\n", nerdfonts.CheckCircle)
	fmt.Println("You can now use 'gcal-companion sync' to fetch your calendar events.")
	return nil
}

func printAuthStatus(session *auth.Session) {
	switch session.State() {
	case auth.Authenticated:
		fmt.Printf("%s Authentication: Valid (expires %s)\n", nerdfonts.CheckCircle,
			session.ExpiresAt().Local().Format(time.DateTime))
	case auth.NeedsRefresh:
		if session.HasRefreshToken() {
			fmt.Printf("%s Authentication: Expired, will refresh on next sync\n", nerdfonts.Sync)
		} else {
			fmt.Printf("%s Authentication: Expired (run 'gcal-companion auth')\n", nerdfonts.ExclamationTriangle)
		}
	default:
		fmt.Printf("%s Authentication: Required (run 'gcal-companion auth')\n", nerdfonts.ExclamationTriangle)
	}
}
