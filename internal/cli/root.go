package cli

import (
	"fmt"
	"os"

	"github.com/financas-app/financas/internal/cli/app"
	"github.com/financas-app/financas/internal/cli/commands"
	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree. A non-nil prebuilt App is used as is,
// skipping configuration loading.
func NewRootCmd(env *commands.Env) *cobra.Command {
	opts := &app.Options{Version: version}
	prebuilt := env.App != nil

	rootCmd := &cobra.Command{
		Use:   "financas",
		Short: "Finanças - personal finance from the terminal",
		Long: `Finanças CLI - Check accounts, transactions, budgets and goals.

Pages that need a session ask you to log in first. Shared accounts are
reached with 'financas act-as'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[commands.AnnotationNoSession] == "true" {
				return nil
			}
			if !prebuilt {
				a, err := app.New(*opts)
				if err != nil {
					return err
				}
				env.App = a
			}
			// Restore the stored identity before any page is opened
			return env.App.Init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.App != nil && !prebuilt {
				env.App.Close()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Config file (default ~/.config/financas/config.yaml)")
	flags.StringVar(&opts.APIURL, "api-url", "", "API base URL (or set FINANCAS_API_URL)")
	flags.StringVar(&opts.CredentialStore, "credential-store", "", "Where to keep the token: keyring, file or memory")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log requests to stderr")

	rootCmd.AddCommand(&cobra.Command{
		Use:         "version",
		Short:       "Print the version number",
		Annotations: map[string]string{commands.AnnotationNoSession: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "financas version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewLoginCmd(env))
	rootCmd.AddCommand(commands.NewLogoutCmd(env))
	rootCmd.AddCommand(commands.NewRegisterCmd(env))
	rootCmd.AddCommand(commands.NewWhoamiCmd(env))
	rootCmd.AddCommand(commands.NewStatusCmd(env))
	rootCmd.AddCommand(commands.NewOpenCmd(env))
	rootCmd.AddCommand(commands.NewPageCmds(env)...)
	rootCmd.AddCommand(commands.NewDelegacoesCmd(env))
	rootCmd.AddCommand(commands.NewConviteCmd(env))
	rootCmd.AddCommand(commands.NewActAsCmd(env))
	rootCmd.AddCommand(commands.NewConfigCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	env := &commands.Env{Prompt: commands.NewTerminalPrompter()}
	if err := NewRootCmd(env).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
