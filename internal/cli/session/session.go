// Package session tracks who is logged in. A Manager owns the current
// identity, derives the authentication state from the stored token plus the
// fetched user, and keeps the credential store in step with both.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/credstore"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Messages shown when the API gives no usable detail
const (
	MsgLoginFailed    = "Erro ao fazer login"
	MsgRegisterFailed = "Erro ao registrar"
)

// ErrNotAuthenticated is returned by FetchUser when there is no token to use
var ErrNotAuthenticated = errors.New("not authenticated. Please run 'financas login' first")

// State of the session
type State int

const (
	StateAnonymous State = iota
	StateLoading
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// API is the part of the gateway the session needs
type API interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, req client.RegisterRequest) (*client.User, error)
	Me(ctx context.Context) (*client.User, error)
}

// Status is a point-in-time copy of the session
type Status struct {
	State       State
	User        *client.User
	HasToken    bool
	ActingAs    string
	Error       string
	TokenExpiry time.Time
}

// Authenticated is true iff a token and a user are both present
func (s Status) Authenticated() bool {
	return s.HasToken && s.User != nil
}

// Manager is the session state container. Construct one per process and
// pass it to the router and commands.
type Manager struct {
	api      API
	store    credstore.Store
	validate *validator.Validate
	logger   zerolog.Logger

	mu       sync.Mutex
	token    string
	actingAs string
	user     *client.User
	inFlight int
	lastErr  string

	fetches singleflight.Group
}

// Option configures a Manager
type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a manager seeded from the persisted credential. It performs
// no network call; use Init to rehydrate the identity.
func New(api API, store credstore.Store, opts ...Option) (*Manager, error) {
	cred, err := store.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	m := &Manager{
		api:      api,
		store:    store,
		validate: validator.New(),
		logger:   zerolog.Nop(),
		token:    cred.AccessToken,
		actingAs: cred.ActingAsUserID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Init rehydrates the identity when a token was persisted. The application
// awaits it before the first navigation.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	hasToken := m.token != ""
	m.mu.Unlock()

	if !hasToken {
		return nil
	}
	return m.FetchUser(ctx)
}

func (m *Manager) begin(resetErr bool) {
	m.mu.Lock()
	m.inFlight++
	if resetErr {
		m.lastErr = ""
	}
	m.mu.Unlock()
}

func (m *Manager) end() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *Manager) fail(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
}

// Login submits the credentials, stores the returned token and then fetches
// the user. It reports whether the session ended authenticated; on failure
// the message is available from Error.
func (m *Manager) Login(ctx context.Context, email, password string) bool {
	m.begin(true)
	defer m.end()

	token, err := m.api.Login(ctx, email, password)
	if err != nil {
		m.logger.Debug().Err(err).Str("email", email).Msg("login failed")
		m.fail(client.DetailMessage(err, MsgLoginFailed))
		return false
	}

	m.mu.Lock()
	err = m.store.SetToken(token)
	if err == nil {
		m.token = token
	}
	m.mu.Unlock()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to persist access token")
		m.fail(MsgLoginFailed)
		return false
	}

	if err := m.FetchUser(ctx); err != nil {
		m.fail(client.DetailMessage(err, MsgLoginFailed))
		return false
	}
	return m.IsAuthenticated()
}

// Register creates an account without logging in
func (m *Manager) Register(ctx context.Context, req client.RegisterRequest) bool {
	m.begin(true)
	defer m.end()

	if req.Role == "" {
		req.Role = client.RoleUser
	}
	if err := m.validate.Struct(&req); err != nil {
		m.fail(validationMessage(err))
		return false
	}

	if _, err := m.api.Register(ctx, req); err != nil {
		m.logger.Debug().Err(err).Str("email", req.Email).Msg("register failed")
		m.fail(client.DetailMessage(err, MsgRegisterFailed))
		return false
	}
	return true
}

// FetchUser loads the identity behind the stored token. Any failure,
// including an unreachable API, logs the session out. Concurrent calls share
// one request.
func (m *Manager) FetchUser(ctx context.Context) error {
	_, err, _ := m.fetches.Do("me", func() (interface{}, error) {
		m.begin(false)
		defer m.end()

		m.mu.Lock()
		hasToken := m.token != ""
		m.mu.Unlock()
		if !hasToken {
			m.Logout()
			return nil, ErrNotAuthenticated
		}

		user, err := m.api.Me(ctx)
		if err != nil {
			m.logger.Debug().Err(err).Msg("failed to fetch current user, logging out")
			m.Logout()
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.token == "" {
			// Logged out while the request was in flight
			return nil, ErrNotAuthenticated
		}
		m.user = user
		return user, nil
	})
	return err
}

// Logout clears the user and the stored credential together. Safe to call
// any number of times.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user = nil
	m.token = ""
	m.actingAs = ""
	if err := m.store.Clear(); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear credentials")
	}
}

// HandleUnauthorized resets the session after the gateway saw a 401
func (m *Manager) HandleUnauthorized(ev client.UnauthorizedEvent) {
	m.logger.Debug().Str("path", ev.Path).Msg("session invalidated by unauthorized response")
	m.Logout()
}

// ActAs switches the delegation context; an empty id returns to the user's own data
func (m *Manager) ActAs(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" {
		return ErrNotAuthenticated
	}
	if err := m.store.SetActingAs(userID); err != nil {
		return fmt.Errorf("failed to save delegation context: %w", err)
	}
	m.actingAs = userID
	return nil
}

// ActingAs returns the current delegation context, empty when acting as oneself
func (m *Manager) ActingAs() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actingAs
}

// IsAuthenticated is true iff both a token and a user are present
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && m.user != nil
}

// HasToken reports whether a token is held, whether or not the user is loaded
func (m *Manager) HasToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}

// User returns a copy of the current user, or nil
func (m *Manager) User() *client.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Error returns the message of the last failed login or register
func (m *Manager) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// State derives the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.inFlight > 0:
		return StateLoading
	case m.token != "" && m.user != nil:
		return StateAuthenticated
	default:
		return StateAnonymous
	}
}

// Snapshot returns a copy of the whole session
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:    m.stateLocked(),
		HasToken: m.token != "",
		ActingAs: m.actingAs,
		Error:    m.lastErr,
	}
	if m.user != nil {
		u := *m.user
		st.User = &u
	}
	if m.token != "" {
		if claims, err := ParseTokenClaims(m.token); err == nil {
			st.TokenExpiry = claims.ExpiresAt
		}
	}
	return st
}
