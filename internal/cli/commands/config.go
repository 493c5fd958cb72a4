package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/financas-app/financas/internal/cli/app"
	"github.com/financas-app/financas/internal/cli/config"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command group. It runs without a session.
func NewConfigCmd(opts *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Show or change CLI settings",
		Annotations: map[string]string{AnnotationNoSession: "true"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:         "show",
		Short:       "Print the effective settings",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{AnnotationNoSession: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := app.Load(*opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file: %s\n\n", path)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, key := range config.Keys() {
				v, _ := cfg.Get(key)
				fmt.Fprintf(w, "%s\t%s\n", key, v)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "set <key> <value>",
		Short:       "Save a setting to the config file",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{AnnotationNoSession: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}

			if err := config.SetInFile(path, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s saved to %s\n", args[0], path)
			return nil
		},
	})

	return cmd
}
