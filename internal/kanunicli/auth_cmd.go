package kanunicli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/kanuni/config"
	"github.com/oremus-labs/kanuni/internal/auth"
	"github.com/oremus-labs/kanuni/internal/clock"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in, log out and manage credentials",
}

var (
	loginAPIKey string
	loginEmail  string
	loginMFA    string
)

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the device flow, an API key or email and password",
	Long: `Without flags, login starts the device authorization flow and prints a code
to approve in the browser. Use --api-key (or --api-key - to be prompted) to store
an API key, or --email to log in with a password.`,
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cmd.Flags().Changed("api-key") {
			key := loginAPIKey
			if key == "" || key == "-" {
				if key, err = readSecret("API key: ", cmd.InOrStdin()); err != nil {
					exitWithError(cmd, err)
					return
				}
			}
			parsed, err := auth.ParseAPIKey(key)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			user, err := sess.client.ValidateAPIKey(ctx, parsed.Key)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if _, err := sess.creds.LoginAPIKey(parsed, user.ID, user.Email); err != nil {
				exitWithError(cmd, err)
				return
			}
			fmt.Fprintf(out, "%s Logged in as %s with API key %s\n", successStyle.Render("✓"), user.Email, parsed.Masked())
			return
		}

		if loginEmail != "" {
			password, err := readSecret("Password: ", cmd.InOrStdin())
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			grant, err := sess.client.Login(ctx, loginEmail, password, loginMFA)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if grant.Email == "" {
				grant.Email = loginEmail
			}
			if _, err := sess.creds.LoginOAuth(grant); err != nil {
				exitWithError(cmd, err)
				return
			}
			rememberEmail(grant.Email)
			fmt.Fprintf(out, "%s Logged in as %s\n", successStyle.Render("✓"), grant.Email)
			return
		}

		code, err := sess.client.RequestDeviceCode(ctx)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(out, "Open %s and enter the code:\n\n    %s\n\n", accentStyle.Render(code.VerificationURI), headerStyle.Render(code.UserCode))
		if code.VerificationURIComplete != "" {
			fmt.Fprintf(out, "%s\n", mutedStyle.Render("Or visit "+code.VerificationURIComplete))
		}
		fmt.Fprintf(out, "Waiting for approval (expires in %s)...\n", humanDuration(time.Duration(code.ExpiresIn)*time.Second))
		grant, err := sess.client.WaitForDeviceToken(ctx, code, clock.Real())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		creds, err := sess.creds.LoginOAuth(grant)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if creds.Email == "" {
			if user, err := sess.client.Profile(ctx); err == nil {
				creds.Email = user.Email
			}
		}
		rememberEmail(creds.Email)
		fmt.Fprintf(out, "%s Logged in%s\n", successStyle.Render("✓"), emailSuffix(creds.Email))
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and remove stored credentials",
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		creds, err := sess.creds.Current()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if creds == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
			return
		}
		if creds.Auth.Type == auth.KindOAuth {
			if err := sess.client.Logout(cmd.Context()); err != nil {
				printErrorLine("%s server logout failed: %s", warnStyle.Render("warning:"), describeError(err))
			}
		}
		if err := sess.creds.Logout(); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Logged out.\n", successStyle.Render("✓"))
	},
}

type authStatus struct {
	LoggedIn  bool       `json:"logged_in"`
	Type      auth.Kind  `json:"type,omitempty"`
	Email     string     `json:"email,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	APIKey    string     `json:"api_key,omitempty"`
	Path      string     `json:"credentials_path"`
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credential",
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		creds, err := sess.creds.Current()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		status := authStatus{Path: config.CredentialsPath()}
		if creds != nil {
			status.LoggedIn = true
			status.Type = creds.Auth.Type
			status.Email = creds.Email
			if creds.UserID != nil {
				status.UserID = creds.UserID.String()
			}
			if creds.Auth.OAuth != nil {
				exp := creds.Auth.OAuth.ExpiresAt
				status.ExpiresAt = &exp
			}
			if creds.Auth.APIKey != nil {
				status.APIKey = creds.Auth.APIKey.Masked()
			}
		}
		if err := writeOutput(cmd, status); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		out := cmd.OutOrStdout()
		if !status.LoggedIn {
			fmt.Fprintln(out, "Not logged in. Run 'kanuni auth login'.")
			return
		}
		tw := newTable(out)
		fmt.Fprintf(tw, "Method:\t%s\n", status.Type)
		fmt.Fprintf(tw, "Email:\t%s\n", orDash(status.Email))
		fmt.Fprintf(tw, "User ID:\t%s\n", orDash(status.UserID))
		if status.ExpiresAt != nil {
			state := "valid"
			if time.Until(*status.ExpiresAt) <= 0 {
				state = "expired, refreshes on next use"
			}
			fmt.Fprintf(tw, "Access token:\t%s (%s)\n", relativeTime(*status.ExpiresAt), state)
		}
		if status.APIKey != "" {
			fmt.Fprintf(tw, "API key:\t%s\n", status.APIKey)
		}
		fmt.Fprintf(tw, "Stored in:\t%s\n", status.Path)
		flushTable(tw)
	},
}

var authKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var authKeysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		keys, err := sess.client.ListAPIKeys(cmd.Context())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, keys); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No API keys issued yet.")
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "ID\tNAME\tKEY\tPERMISSIONS\tLAST USED\tEXPIRES\n")
		for _, key := range keys {
			lastUsed := "-"
			if key.LastUsedAt != nil {
				lastUsed = relativeTime(*key.LastUsedAt)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s...%s\t%s\t%s\t%s\n",
				shortID(key.ID), key.Name, key.Prefix, key.Last4,
				strings.Join(key.Permissions, ","), lastUsed, formatTimestamp(key.ExpiresAt))
		}
		flushTable(tw)
	},
}

var (
	keyPermissions []string
	keyExpiresDays int
)

var authKeysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Issue a new API key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		created, err := sess.client.CreateAPIKey(cmd.Context(), args[0], normalizeArgs(keyPermissions), keyExpiresDays)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, created); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Key ID: %s\n", created.KeyID)
		fmt.Fprintf(out, "API key (store securely, only shown once):\n%s\n", created.APIKey)
	},
}

var keysRevokeForce bool

var authKeysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if !keysRevokeForce {
			ok, err := confirmPrompt(fmt.Sprintf("Revoke API key %s? [y/N]: ", args[0]), false, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return
			}
		}
		if err := sess.client.RevokeAPIKey(cmd.Context(), args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked.\n", args[0])
	},
}

var authSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage CLI sessions",
}

var authSessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List CLI sessions for the account",
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		sessions, err := sess.client.ListSessions(cmd.Context())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, sessions); err != nil {
			exitWithError(cmd, err)
			return
		}
		if structuredOutput() {
			return
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No CLI sessions.")
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "ID\tDEVICE\tPLATFORM\tHOST\tACTIVE\tLAST USED\n")
		for _, s := range sessions {
			id := s.ID
			if s.IsCurrent {
				id += " *"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
				id, deref(s.DeviceName), deref(s.Platform), deref(s.Hostname), s.IsActive, relativeTime(s.LastUsedAt))
		}
		flushTable(tw)
	},
}

var sessionsRevokeForce bool

var authSessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <session-id>",
	Short: "End a CLI session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sess, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if !sessionsRevokeForce {
			ok, err := confirmPrompt(fmt.Sprintf("Revoke session %s? [y/N]: ", args[0]), false, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return
			}
		}
		if err := sess.client.RevokeSession(cmd.Context(), args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s revoked.\n", args[0])
	},
}

func init() {
	authLoginCmd.Flags().StringVar(&loginAPIKey, "api-key", "", "Store an API key instead of using the device flow (- to prompt)")
	authLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Log in with email and password")
	authLoginCmd.Flags().StringVar(&loginMFA, "mfa-code", "", "One-time code when MFA is enabled")
	authLoginCmd.MarkFlagsMutuallyExclusive("api-key", "email")

	authKeysCreateCmd.Flags().StringSliceVar(&keyPermissions, "permission", nil, "Permission granted to the key (repeatable)")
	authKeysCreateCmd.Flags().IntVar(&keyExpiresDays, "expires-in-days", 0, "Days until the key expires (0 = never)")
	authKeysRevokeCmd.Flags().BoolVar(&keysRevokeForce, "yes", false, "Skip confirmation prompt")
	authSessionsRevokeCmd.Flags().BoolVar(&sessionsRevokeForce, "yes", false, "Skip confirmation prompt")

	authKeysCmd.AddCommand(authKeysListCmd, authKeysCreateCmd, authKeysRevokeCmd)
	authSessionsCmd.AddCommand(authSessionsListCmd, authSessionsRevokeCmd)
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd, authKeysCmd, authSessionsCmd)
}

// rememberEmail records the login email in the config file. Failures only
// warn because the credential is already stored.
func rememberEmail(email string) {
	if email == "" || appConfig == nil || appConfig.UserEmail == email {
		return
	}
	appConfig.UserEmail = email
	onDisk, err := config.Load(cfgFile)
	if err == nil {
		onDisk.UserEmail = email
		err = config.Save(onDisk, cfgFile)
	}
	if err != nil {
		printErrorLine("%s could not save user email: %v", warnStyle.Render("warning:"), err)
	}
}

func emailSuffix(email string) string {
	if email == "" {
		return ""
	}
	return " as " + email
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func normalizeArgs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
