package commands

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/spf13/cobra"
)

// open navigates to path and renders whatever page the guard lands on
func (e *Env) open(cmd *cobra.Command, path string) error {
	defer e.reportPending(cmd.ErrOrStderr())

	match, err := e.visit(cmd.Context(), cmd, path)
	if err != nil {
		return err
	}
	return e.render(cmd, match)
}

// withPage navigates to path and runs fn instead of rendering the page
func (e *Env) withPage(cmd *cobra.Command, path string, fn func(context.Context, *client.Client) error) error {
	defer e.reportPending(cmd.ErrOrStderr())

	if _, err := e.visit(cmd.Context(), cmd, path); err != nil {
		return err
	}
	return fn(cmd.Context(), e.App.Client)
}

// NewOpenCmd creates the open command
func NewOpenCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Open any page by its path",
		Long: `Open a page by path, e.g. /dashboard, /contas/3/fatura or /orcamentos?mes=5&ano=2024.

Pages that need a session send you through the login page first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.open(cmd, args[0])
		},
	}
}

func pageCmd(env *Env, use, short, path string, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Aliases: aliases,
		Short:   short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.open(cmd, path)
		},
	}
}

// NewPageCmds creates the shortcut commands for each list page
func NewPageCmds(env *Env) []*cobra.Command {
	cmds := []*cobra.Command{
		pageCmd(env, "dashboard", "Show the dashboard", "/dashboard"),
		pageCmd(env, "contas", "List accounts", "/contas", "accounts"),
		pageCmd(env, "metas", "List savings goals", "/metas", "goals"),
		pageCmd(env, "categorias", "List categories", "/categorias", "categories"),
		newFaturaCmd(env),
		newTransacoesCmd(env),
		newMonthPageCmd(env, "orcamentos", "List budgets", "/orcamentos", "budgets"),
		newMonthPageCmd(env, "relatorios", "Show the monthly report", "/relatorios", "reports"),
	}
	return cmds
}

func newFaturaCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "fatura <conta-id>",
		Short: "Show the current credit card statement of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return env.open(cmd, fmt.Sprintf("/contas/%d/fatura", id))
		},
	}
}

func newTransacoesCmd(env *Env) *cobra.Command {
	var skip, limit int

	cmd := &cobra.Command{
		Use:     "transacoes",
		Aliases: []string{"transactions"},
		Short:   "List transactions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if skip > 0 {
				query.Set("skip", strconv.Itoa(skip))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			return env.open(cmd, withQuery("/transacoes", query))
		},
	}

	cmd.Flags().IntVar(&skip, "skip", 0, "Number of transactions to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of transactions")

	return cmd
}

func newMonthPageCmd(env *Env, use, short, path, alias string) *cobra.Command {
	var mes, ano int

	cmd := &cobra.Command{
		Use:     use,
		Aliases: []string{alias},
		Short:   short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mes < 0 || mes > 12 {
				return fmt.Errorf("invalid month %d", mes)
			}
			query := url.Values{}
			if mes > 0 {
				query.Set("mes", strconv.Itoa(mes))
			}
			if ano > 0 {
				query.Set("ano", strconv.Itoa(ano))
			}
			return env.open(cmd, withQuery(path, query))
		},
	}

	cmd.Flags().IntVar(&mes, "mes", 0, "Month (1-12)")
	cmd.Flags().IntVar(&ano, "ano", 0, "Year")

	return cmd
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
