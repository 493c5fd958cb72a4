// Package app assembles the CLI's long-lived objects: configuration, logger,
// credential store, API client, session manager and navigator. One App is
// built per process and handed to every command.
package app

import (
	"context"
	"fmt"

	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/config"
	"github.com/financas-app/financas/internal/cli/credstore"
	"github.com/financas-app/financas/internal/cli/router"
	"github.com/financas-app/financas/internal/cli/session"
	"github.com/financas-app/financas/internal/logger"
	"github.com/rs/zerolog"
)

// Options are the command-line overrides applied on top of the loaded config
type Options struct {
	ConfigPath      string
	APIURL          string
	CredentialStore string
	Verbose         bool
	Version         string
}

// App is the per-process session context
type App struct {
	Config     config.Config
	ConfigPath string
	Logger     zerolog.Logger

	Store     credstore.Store
	Client    *client.Client
	Session   *session.Manager
	Routes    *router.Table
	Guard     *router.Guard
	Navigator *router.Navigator

	unsubscribe []func()
}

// Load reads the configuration and applies the flag overrides
func Load(opts Options) (config.Config, string, error) {
	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, "", err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, path, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.APIURL != "" {
		if err := cfg.Set("api_url", opts.APIURL); err != nil {
			return cfg, path, err
		}
	}
	if opts.CredentialStore != "" {
		if err := cfg.Set("credential_store", opts.CredentialStore); err != nil {
			return cfg, path, err
		}
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

// New builds an App from the effective configuration
func New(opts Options) (*App, error) {
	cfg, path, err := Load(opts)
	if err != nil {
		return nil, err
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.GetLogger()

	kind, err := credstore.ParseKind(cfg.CredentialStore)
	if err != nil {
		return nil, err
	}
	store, err := credstore.Open(kind, cfg.APIURL, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	clientOpts := []client.Option{
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(log),
	}
	if opts.Version != "" {
		clientOpts = append(clientOpts, client.WithUserAgent("financas-cli/"+opts.Version))
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		clientOpts = append(clientOpts, client.WithRateLimit(cfg.RateLimit, burst))
	}

	a, err := Assemble(client.New(cfg.APIURL, store, clientOpts...), log)
	if err != nil {
		return nil, err
	}
	a.Config = cfg
	a.ConfigPath = path
	return a, nil
}

// Assemble wires the session, guard and navigator around an API client
func Assemble(c *client.Client, log zerolog.Logger) (*App, error) {
	sess, err := session.New(c, c.Store(), session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	routes := router.NewTable(router.DefaultRoutes)
	guard := router.NewGuard(routes, sess, log)
	nav := router.NewNavigator(guard, log)

	a := &App{
		Config:    config.Defaults(),
		Logger:    log,
		Store:     c.Store(),
		Client:    c,
		Session:   sess,
		Routes:    routes,
		Guard:     guard,
		Navigator: nav,
	}
	a.Config.APIURL = c.BaseURL()

	// Session first so the navigator sees the logged-out state
	a.unsubscribe = append(a.unsubscribe,
		c.OnUnauthorized(sess.HandleUnauthorized),
		c.OnUnauthorized(nav.HandleUnauthorized),
	)
	return a, nil
}

// Init restores the persisted identity before the first navigation
func (a *App) Init(ctx context.Context) error {
	if err := a.Session.Init(ctx); err != nil {
		a.Logger.Debug().Err(err).Msg("stored session could not be restored")
	}
	return nil
}

// Close detaches the event subscriptions
func (a *App) Close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	a.unsubscribe = nil
}
