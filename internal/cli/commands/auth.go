package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/router"
	"github.com/spf13/cobra"
)

// NewLoginCmd creates the login command
func NewLoginCmd(env *Env) *cobra.Command {
	var email, password, redirect string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the Finanças API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, env, email, password, redirect)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set FINANCAS_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set FINANCAS_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&redirect, "redirect", "", "Page to open after logging in")

	return cmd
}

func runLogin(cmd *cobra.Command, env *Env, email, password, redirect string) error {
	a, err := env.app()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if a.Session.IsAuthenticated() {
		u := a.Session.User()
		fmt.Fprintf(out, "Already logged in as %s (%s). Run 'financas logout' to switch accounts.\n", u.Nome, u.Email)
		return nil
	}

	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("FINANCAS_EMAIL")
	}
	if password == "" {
		password = os.Getenv("FINANCAS_PASSWORD")
	}

	interactive := env.Prompt != nil && env.Prompt.Interactive()
	if email == "" {
		if !interactive {
			return fmt.Errorf("email is required (use --email flag or FINANCAS_EMAIL env var)")
		}
		if email, err = env.Prompt.Email(); err != nil {
			return err
		}
	}
	if password == "" {
		if !interactive {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or FINANCAS_PASSWORD env var)")
		}
		if password, err = env.Prompt.Password(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Logging in to %s...\n", a.Client.BaseURL())

	if !a.Session.Login(ctx, email, password) {
		// A rejected login is not a session expiry
		a.Navigator.TakePending()
		return fmt.Errorf("login failed: %s", a.Session.Error())
	}

	u := a.Session.User()
	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  User: %s (%s)\n", u.Nome, u.Email)

	if redirect == "" {
		return nil
	}
	match, err := env.visit(ctx, cmd, redirect)
	if err != nil {
		return err
	}
	return env.render(cmd, match)
}

// NewLogoutCmd creates the logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.app()
			if err != nil {
				return err
			}
			a.Session.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
			return nil
		},
	}
}

// NewRegisterCmd creates the register command
func NewRegisterCmd(env *Env) *cobra.Command {
	var req client.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.app()
			if err != nil {
				return err
			}

			if req.Password == "" && env.Prompt != nil && env.Prompt.Interactive() {
				if req.Password, err = env.Prompt.Password(); err != nil {
					return err
				}
			}

			if !a.Session.Register(cmd.Context(), req) {
				return fmt.Errorf("registration failed: %s", a.Session.Error())
			}

			fmt.Fprintln(cmd.OutOrStdout(), "✓ Account created!")
			fmt.Fprintf(cmd.OutOrStdout(), "\nLog in with: financas login --email %s\n", req.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Nome, "nome", "", "Display name")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (will prompt if not provided)")

	return cmd
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.app()
			if err != nil {
				return err
			}
			u := a.Session.User()
			if u == nil {
				return fmt.Errorf("%w: run 'financas login' first", ErrLoginRequired)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", u.Nome, u.Email)
			if actingAs := a.Session.ActingAs(); actingAs != "" {
				fmt.Fprintf(out, "Acting as user %s\n", actingAs)
			}
			return nil
		},
	}
}

// NewStatusCmd creates the status command
func NewStatusCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.app()
			if err != nil {
				return err
			}
			st := a.Session.Snapshot()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "API:         %s\n", a.Client.BaseURL())
			fmt.Fprintf(out, "Credentials: %s\n", a.Config.CredentialStore)
			fmt.Fprintf(out, "Session:     %s\n", st.State)
			if st.User != nil {
				fmt.Fprintf(out, "User:        %s (%s)\n", st.User.Nome, st.User.Email)
			}
			if st.ActingAs != "" {
				fmt.Fprintf(out, "Acting as:   user %s\n", st.ActingAs)
			}
			if !st.TokenExpiry.IsZero() {
				remaining := time.Until(st.TokenExpiry).Round(time.Minute)
				if remaining > 0 {
					fmt.Fprintf(out, "Token:       expires %s (in %s)\n", st.TokenExpiry.Local().Format(time.RFC1123), remaining)
				} else {
					fmt.Fprintf(out, "Token:       expired %s\n", st.TokenExpiry.Local().Format(time.RFC1123))
				}
			}
			if !st.Authenticated() {
				fmt.Fprintf(out, "\nLog in with: financas login\n")
			}
			return nil
		},
	}
}

// loginView renders the login page: an interactive login, then the redirect target
func loginView(cmd *cobra.Command, env *Env, match router.Match) error {
	if env.Prompt == nil || !env.Prompt.Interactive() {
		target := router.RedirectTarget(match)
		return fmt.Errorf("%w: run 'financas login --redirect %s'", ErrLoginRequired, shellQuote(target))
	}
	ctx := cmd.Context()
	if err := env.interactiveLogin(ctx, cmd, ""); err != nil {
		return err
	}
	next, err := env.visit(ctx, cmd, router.RedirectTarget(match))
	if err != nil {
		return err
	}
	return env.render(cmd, next)
}

func shellQuote(s string) string {
	if !strings.ContainsAny(s, "?&= ") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
