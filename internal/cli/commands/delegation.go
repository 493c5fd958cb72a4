package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/router"
	"github.com/spf13/cobra"
)

// NewDelegacoesCmd creates the delegation command group
func NewDelegacoesCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delegacoes",
		Aliases: []string{"delegations"},
		Short:   "Share access to your data with other users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.open(cmd, "/delegacoes/convites")
		},
	}

	cmd.AddCommand(newConvidarCmd(env))
	cmd.AddCommand(&cobra.Command{
		Use:   "enviadas",
		Short: "List delegations you granted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withPage(cmd, "/delegacoes/convites", func(ctx context.Context, c *client.Client) error {
				return delegacoesView(ctx, cmd.OutOrStdout(), c, true, false)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recebidas",
		Short: "List delegations you received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withPage(cmd, "/delegacoes/convites", func(ctx context.Context, c *client.Client) error {
				return delegacoesView(ctx, cmd.OutOrStdout(), c, false, true)
			})
		},
	})
	cmd.AddCommand(newDelegacaoActionCmd(env, "aceitar", "Accept a delegation invite", func(ctx context.Context, c *client.Client, id int64) (*client.Delegacao, error) {
		return c.AcceptDelegacao(ctx, id)
	}))
	cmd.AddCommand(newDelegacaoActionCmd(env, "revogar", "Revoke a delegation", func(ctx context.Context, c *client.Client, id int64) (*client.Delegacao, error) {
		return c.RevokeDelegacao(ctx, id)
	}))

	return cmd
}

func newConvidarCmd(env *Env) *cobra.Command {
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "convidar <email>",
		Short: "Invite someone to access your data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withPage(cmd, "/delegacoes/convidar", func(ctx context.Context, c *client.Client) error {
				resp, err := c.InviteDelegacao(ctx, client.InviteRequest{
					Email:    strings.TrimSpace(args[0]),
					CanWrite: !readOnly,
				})
				if err != nil {
					return fmt.Errorf("failed to send invite: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✓ Invite #%d sent to %s\n", resp.Delegacao.ID, resp.Delegacao.InvitedEmail)
				if !resp.HasAccount {
					fmt.Fprintln(out, "  They will create an account when confirming the invite.")
				}
				if !resp.EmailSent {
					fmt.Fprintln(out, "  Warning: the invite email could not be sent.")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Grant read-only access")

	return cmd
}

func newDelegacaoActionCmd(env *Env, use, short string, action func(context.Context, *client.Client, int64) (*client.Delegacao, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return env.withPage(cmd, "/delegacoes/convites", func(ctx context.Context, c *client.Client) error {
				d, err := action(ctx, c, id)
				if err != nil {
					return fmt.Errorf("failed to %s delegation %d: %w", use, id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Delegation #%d is now %s\n", d.ID, d.Status)
				return nil
			})
		},
	}
}

func delegacoesView(ctx context.Context, out io.Writer, c *client.Client, sent, received bool) error {
	if sent {
		list, err := c.ListDelegacoesSent(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Granted by you:")
		if err := delegacoesTable(out, list, func(d client.Delegacao) string {
			if d.Delegate != nil {
				return fmt.Sprintf("%s <%s>", d.Delegate.Nome, d.Delegate.Email)
			}
			return d.InvitedEmail
		}); err != nil {
			return err
		}
	}
	if sent && received {
		fmt.Fprintln(out)
	}
	if received {
		list, err := c.ListDelegacoesReceived(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Granted to you:")
		if err := delegacoesTable(out, list, func(d client.Delegacao) string {
			if d.Owner != nil {
				return fmt.Sprintf("%s <%s>", d.Owner.Nome, d.Owner.Email)
			}
			return strconv.FormatInt(d.OwnerUserID, 10)
		}); err != nil {
			return err
		}
	}
	return nil
}

func delegacoesTable(out io.Writer, list []client.Delegacao, who func(client.Delegacao) string) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "  none")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tUSER\tSTATUS\tACCESS")
	fmt.Fprintln(w, "──\t────\t──────\t──────")
	for _, d := range list {
		access := "read-only"
		if d.CanWrite {
			access = "read-write"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, who(d), d.Status, access)
	}
	return w.Flush()
}

// NewConviteCmd creates the commands for the invite link flow
func NewConviteCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convite",
		Short: "Inspect or confirm a delegation invite",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info <token>",
		Short: "Show who sent an invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.open(cmd, "/convites/confirmar?token="+args[0])
		},
	})

	var req client.ConfirmInviteRequest
	confirm := &cobra.Command{
		Use:   "confirmar <token>",
		Short: "Accept an invite, creating the account if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.app()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := env.visit(ctx, cmd, "/convites/confirmar?token="+args[0]); err != nil {
				return err
			}

			info, err := a.Client.InviteInfo(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load invite: %w", err)
			}
			if !info.HasAccount && req.Password == "" && env.Prompt != nil && env.Prompt.Interactive() {
				if req.Password, err = env.Prompt.Password(); err != nil {
					return err
				}
			}

			d, err := a.Client.ConfirmInvite(ctx, args[0], req)
			if err != nil {
				return fmt.Errorf("failed to confirm invite: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ You now have access to %s's data (delegation #%d)\n", info.OwnerNome, d.ID)
			fmt.Fprintf(out, "\nSwitch to it with: financas act-as %s\n", client.FormatUserID(d.OwnerUserID))
			return nil
		},
	}
	confirm.Flags().StringVar(&req.Nome, "nome", "", "Display name for a new account")
	confirm.Flags().StringVar(&req.Password, "password", "", "Password for a new account")
	cmd.AddCommand(confirm)

	return cmd
}

func inviteInfoView(ctx context.Context, out io.Writer, c *client.Client, token string) error {
	info, err := c.InviteInfo(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to load invite: %w", err)
	}

	fmt.Fprintf(out, "Invite from %s <%s> to %s\n", info.OwnerNome, info.OwnerEmail, info.InvitedEmail)
	switch {
	case info.Expired:
		fmt.Fprintln(out, "This invite has expired.")
	case info.HasAccount:
		fmt.Fprintf(out, "Confirm with: financas convite confirmar %s\n", token)
	default:
		fmt.Fprintf(out, "Confirm with: financas convite confirmar %s --nome <nome> --password <password>\n", token)
	}
	return nil
}

// NewActAsCmd creates the act-as command
func NewActAsCmd(env *Env) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "act-as [user-id]",
		Short: "Work on another user's data through a delegation",
		Long: `Choose whose data the following commands read and write.

Without arguments an interactive list of the accounts shared with you is shown.
Use --clear to go back to your own data.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.app()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			// Any authenticated page will do; act-as has no page of its own
			if _, err := env.visit(ctx, cmd, router.PathDashboard); err != nil {
				return err
			}

			if clear {
				if err := a.Session.ActAs(""); err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ Back to your own data")
				return nil
			}

			// The options list is always fetched as oneself
			previous := a.Session.ActingAs()
			if err := a.Session.ActAs(""); err != nil {
				return err
			}
			chosen, err := chooseActAs(ctx, env, a.Client, args, previous)
			if err != nil {
				if a.Session.HasToken() {
					if rerr := a.Session.ActAs(previous); rerr != nil {
						a.Logger.Warn().Err(rerr).Str("acting_as", previous).Msg("failed to restore delegation context")
						return errors.Join(err, rerr)
					}
				}
				return err
			}

			if chosen.IsOwner {
				fmt.Fprintln(out, "✓ Back to your own data")
				return nil
			}
			if err := a.Session.ActAs(client.FormatUserID(chosen.UserID)); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Acting as %s <%s>\n", chosen.Nome, chosen.Email)
			if !chosen.CanWrite {
				fmt.Fprintln(out, "  Access is read-only.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Return to your own data")

	return cmd
}

// chooseActAs resolves the argument (user id or email) or prompts for an account
func chooseActAs(ctx context.Context, env *Env, c *client.Client, args []string, previous string) (*client.ActAsOption, error) {
	options, err := c.ActAsOptions(ctx)
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		for i := range options {
			if client.FormatUserID(options[i].UserID) == args[0] || strings.EqualFold(options[i].Email, args[0]) {
				return &options[i], nil
			}
		}
		return nil, fmt.Errorf("no active delegation for '%s'", args[0])
	}

	if env.Prompt == nil || !env.Prompt.Interactive() {
		return nil, fmt.Errorf("user id is required in non-interactive mode")
	}
	return env.Prompt.SelectActAs(options, previous)
}
