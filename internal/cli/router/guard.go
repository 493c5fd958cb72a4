package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/rs/zerolog"
)

// ErrTooManyRedirects stops a navigation whose redirects never settle
var ErrTooManyRedirects = errors.New("too many redirects")

const maxRedirects = 5

// Session is what the guard reads from the session manager
type Session interface {
	HasToken() bool
	IsAuthenticated() bool
	User() *client.User
	FetchUser(ctx context.Context) error
}

// Action is the outcome of one guard evaluation
type Action int

const (
	Allow Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "allow"
}

// Decision is the result of evaluating one navigation
type Decision struct {
	Action Action
	// Target is the redirect destination (path plus query) when Action is Redirect
	Target string
	Match  Match
}

// Guard decides, per navigation, whether to allow or redirect
type Guard struct {
	table   *Table
	session Session
	logger  zerolog.Logger
}

func NewGuard(table *Table, session Session, logger zerolog.Logger) *Guard {
	return &Guard{table: table, session: session, logger: logger}
}

// Evaluate runs before a navigation to fullPath. It awaits at most one
// FetchUser, only when a token is held but the user has not been loaded.
func (g *Guard) Evaluate(ctx context.Context, fullPath string) (Decision, error) {
	match, err := g.table.Resolve(fullPath)
	if err != nil {
		return Decision{}, err
	}

	if g.session.HasToken() && g.session.User() == nil {
		if err := g.session.FetchUser(ctx); err != nil {
			g.logger.Debug().Err(err).Str("path", match.Path).Msg("identity rehydration failed")
		}
	}

	authenticated := g.session.IsAuthenticated()

	if match.Route.RequiresAuth && !authenticated {
		return Decision{Action: Redirect, Target: LoginRedirect(match.FullPath), Match: match}, nil
	}

	if match.Path == PathLogin && authenticated {
		return Decision{Action: Redirect, Target: PathDashboard, Match: match}, nil
	}

	return Decision{Action: Allow, Match: match}, nil
}

// Navigation is the settled result of following guard redirects
type Navigation struct {
	Requested string
	Match     Match
	Redirects []string
}

// Redirected reports whether the landing page differs from the request
func (n Navigation) Redirected() bool {
	return len(n.Redirects) > 0
}

// Navigator tracks the current page, follows redirects and turns the
// gateway's unauthorized events into a pending redirect to login.
type Navigator struct {
	guard  *Guard
	logger zerolog.Logger

	mu      sync.Mutex
	current Match
	pending string
}

func NewNavigator(guard *Guard, logger zerolog.Logger) *Navigator {
	return &Navigator{guard: guard, logger: logger}
}

// Navigate evaluates the guard for fullPath and follows redirects until a
// page is allowed
func (n *Navigator) Navigate(ctx context.Context, fullPath string) (Navigation, error) {
	nav := Navigation{Requested: fullPath}
	target := fullPath

	for hop := 0; hop <= maxRedirects; hop++ {
		decision, err := n.guard.Evaluate(ctx, target)
		if err != nil {
			return nav, err
		}
		if decision.Action == Allow {
			nav.Match = decision.Match
			n.mu.Lock()
			n.current = decision.Match
			n.pending = ""
			n.mu.Unlock()
			return nav, nil
		}

		n.logger.Debug().Str("from", decision.Match.FullPath).Str("to", decision.Target).Msg("navigation redirected")
		nav.Redirects = append(nav.Redirects, decision.Target)
		target = decision.Target
	}
	return nav, fmt.Errorf("navigating to %s: %w", fullPath, ErrTooManyRedirects)
}

// Current returns the page of the last allowed navigation
func (n *Navigator) Current() Match {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// HandleUnauthorized records a redirect to login after a 401. A failed
// login submission, or a 401 while already on the login page, records nothing.
func (n *Navigator) HandleUnauthorized(ev client.UnauthorizedEvent) {
	if ev.Path == client.PathLogin {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current.Path == PathLogin {
		return
	}
	if n.current.Found && n.current.Route.RequiresAuth {
		n.pending = LoginRedirect(n.current.FullPath)
	} else {
		n.pending = PathLogin
	}
	n.logger.Debug().Str("pending", n.pending).Msg("redirect to login scheduled")
}

// TakePending returns and clears the redirect recorded by HandleUnauthorized
func (n *Navigator) TakePending() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.pending
	n.pending = ""
	return p
}
