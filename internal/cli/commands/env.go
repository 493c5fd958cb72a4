package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/financas-app/financas/internal/cli/app"
	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/router"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// AnnotationNoSession marks commands that run without building the App
const AnnotationNoSession = "financas/no-session"

// ErrLoginRequired is returned when a page needs a session and none can be started
var ErrLoginRequired = errors.New("authentication required")

// Prompter asks the user for input
type Prompter interface {
	Interactive() bool
	Email() (string, error)
	Password() (string, error)
	SelectActAs(options []client.ActAsOption, current string) (*client.ActAsOption, error)
}

// Env is shared by every command. App is filled in by the root pre-run.
type Env struct {
	App    *app.App
	Prompt Prompter
}

func (e *Env) app() (*app.App, error) {
	if e.App == nil {
		return nil, fmt.Errorf("session not initialised")
	}
	return e.App, nil
}

// reportPending prints the login redirect scheduled by a 401 during the command
func (e *Env) reportPending(w io.Writer) {
	if e.App == nil {
		return
	}
	if target := e.App.Navigator.TakePending(); target != "" {
		fmt.Fprintf(w, "Session expired. Run 'financas login' to continue (redirect: %s)\n", target)
	}
}

// visit navigates to path through the guard. When the guard lands on the
// login page it logs in interactively and continues to the original target.
func (e *Env) visit(ctx context.Context, cmd *cobra.Command, path string) (router.Match, error) {
	a, err := e.app()
	if err != nil {
		return router.Match{}, err
	}

	nav, err := a.Navigator.Navigate(ctx, path)
	if err != nil {
		return router.Match{}, err
	}
	if nav.Match.Path != router.PathLogin || path == router.PathLogin || strings.HasPrefix(path, router.PathLogin+"?") {
		return nav.Match, nil
	}

	target := router.RedirectTarget(nav.Match)
	if e.Prompt == nil || !e.Prompt.Interactive() {
		return nav.Match, fmt.Errorf("%w: run 'financas login' first (requested %s)", ErrLoginRequired, target)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Login required for %s\n", target)
	if err := e.interactiveLogin(ctx, cmd, ""); err != nil {
		return nav.Match, err
	}

	nav, err = a.Navigator.Navigate(ctx, target)
	if err != nil {
		return router.Match{}, err
	}
	return nav.Match, nil
}

func (e *Env) interactiveLogin(ctx context.Context, cmd *cobra.Command, email string) error {
	var err error
	if email == "" {
		if email, err = e.Prompt.Email(); err != nil {
			return err
		}
	}
	password, err := e.Prompt.Password()
	if err != nil {
		return err
	}
	if !e.App.Session.Login(ctx, email, password) {
		return fmt.Errorf("login failed: %s", e.App.Session.Error())
	}
	u := e.App.Session.User()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Logged in as %s (%s)\n", u.Nome, u.Email)
	return nil
}

// terminalPrompter reads from the controlling terminal
type terminalPrompter struct{}

// NewTerminalPrompter returns the prompter used outside tests
func NewTerminalPrompter() Prompter {
	return terminalPrompter{}
}

func (terminalPrompter) Interactive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

func (terminalPrompter) Email() (string, error) {
	prompt := promptui.Prompt{
		Label: "Email",
		Validate: func(s string) error {
			if !strings.Contains(s, "@") {
				return fmt.Errorf("invalid email")
			}
			return nil
		},
	}
	email, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("login cancelled: %w", err)
	}
	return strings.TrimSpace(email), nil
}

func (terminalPrompter) Password() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func (terminalPrompter) SelectActAs(options []client.ActAsOption, current string) (*client.ActAsOption, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("no accounts available")
	}

	type actAsItem struct {
		Label  string
		Option *client.ActAsOption
	}

	items := make([]actAsItem, len(options))
	cursor := 0
	for i := range options {
		opt := &options[i]
		items[i] = actAsItem{Label: actAsLabel(*opt), Option: opt}
		if client.FormatUserID(opt.UserID) == current {
			cursor = i
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Act as",
		Items:     items,
		Templates: templates,
		Size:      10,
		CursorPos: cursor,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("selection cancelled: %w", err)
	}
	return items[index].Option, nil
}

func actAsLabel(opt client.ActAsOption) string {
	label := fmt.Sprintf("%s <%s>", opt.Nome, opt.Email)
	switch {
	case opt.IsOwner:
		label += " (own account)"
	case !opt.CanWrite:
		label += " (read-only)"
	}
	return label
}
