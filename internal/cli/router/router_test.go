package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/financas-app/financas/internal/cli/apitest"
	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/credstore"
	"github.com/financas-app/financas/internal/cli/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession counts identity fetches
type fakeSession struct {
	token      string
	user       *client.User
	fetchUser  *client.User
	fetchErr   error
	fetchCalls int32
}

func (f *fakeSession) HasToken() bool        { return f.token != "" }
func (f *fakeSession) IsAuthenticated() bool { return f.token != "" && f.user != nil }
func (f *fakeSession) User() *client.User    { return f.user }

func (f *fakeSession) FetchUser(ctx context.Context) error {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.fetchErr != nil {
		f.token = ""
		f.user = nil
		return f.fetchErr
	}
	f.user = f.fetchUser
	return nil
}

func newGuard(s Session) *Guard {
	return NewGuard(NewTable(DefaultRoutes), s, zerolog.Nop())
}

func TestTable_Resolve(t *testing.T) {
	table := NewTable(DefaultRoutes)

	tests := []struct {
		path         string
		wantName     string
		wantAuth     bool
		wantParams   map[string]string
		wantFound    bool
		wantFullPath string
	}{
		{path: "/", wantName: "home", wantFound: true, wantFullPath: "/"},
		{path: "", wantName: "home", wantFound: true, wantFullPath: "/"},
		{path: "/login", wantName: "login", wantFound: true, wantFullPath: "/login"},
		{path: "/registro", wantName: "registro", wantFound: true, wantFullPath: "/registro"},
		{path: "/convites/confirmar?token=abc", wantName: "confirmar-convite", wantFound: true, wantFullPath: "/convites/confirmar?token=abc"},
		{path: "/dashboard", wantName: "dashboard", wantAuth: true, wantFound: true, wantFullPath: "/dashboard"},
		{path: "/dashboard/", wantName: "dashboard", wantAuth: true, wantFound: true, wantFullPath: "/dashboard"},
		{path: "contas", wantName: "contas", wantAuth: true, wantFound: true, wantFullPath: "/contas"},
		{path: "/contas/nova", wantName: "nova-conta", wantAuth: true, wantFound: true, wantFullPath: "/contas/nova"},
		{path: "/contas/7/fatura", wantName: "fatura-cartao", wantAuth: true, wantParams: map[string]string{"id": "7"}, wantFound: true, wantFullPath: "/contas/7/fatura"},
		{path: "/transacoes/42/editar", wantName: "editar-transacao", wantAuth: true, wantParams: map[string]string{"id": "42"}, wantFound: true, wantFullPath: "/transacoes/42/editar"},
		{path: "/orcamentos?mes=3&ano=2024", wantName: "orcamentos", wantAuth: true, wantFound: true, wantFullPath: "/orcamentos?mes=3&ano=2024"},
		{path: "/delegacoes/convites", wantName: "delegacoes-convites", wantAuth: true, wantFound: true, wantFullPath: "/delegacoes/convites"},
		{path: "/nao-existe", wantName: "not-found", wantFullPath: "/nao-existe"},
		{path: "/contas/7/extrato", wantName: "not-found", wantFullPath: "/contas/7/extrato"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, err := table.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, m.Route.Name)
			assert.Equal(t, tt.wantAuth, m.Route.RequiresAuth)
			assert.Equal(t, tt.wantFound, m.Found)
			assert.Equal(t, tt.wantFullPath, m.FullPath)
			for k, v := range tt.wantParams {
				assert.Equal(t, v, m.Param(k))
			}
		})
	}
}

func TestTable_ResolveRejectsURLs(t *testing.T) {
	table := NewTable(DefaultRoutes)

	_, err := table.Resolve("http://evil.example/dashboard")
	assert.Error(t, err)
}

func TestTable_RoutesKeepsOrder(t *testing.T) {
	table := NewTable(DefaultRoutes)
	routes := table.Routes()

	require.Len(t, routes, len(DefaultRoutes))
	assert.Equal(t, "home", routes[0].Name)
	assert.Equal(t, "delegacoes-convites", routes[len(routes)-1].Name)
}

func TestLoginRedirect(t *testing.T) {
	assert.Equal(t, "/login?redirect=/dashboard", LoginRedirect("/dashboard"))
	assert.Equal(t, "/login?redirect=/contas/7/fatura", LoginRedirect("/contas/7/fatura"))
	assert.Equal(t, "/login?redirect=/orcamentos%3Fmes%3D3%26ano%3D2024", LoginRedirect("/orcamentos?mes=3&ano=2024"))
	assert.Equal(t, "/login", LoginRedirect("/login"))
}

func TestRedirectTarget(t *testing.T) {
	table := NewTable(DefaultRoutes)

	tests := []struct {
		path string
		want string
	}{
		{"/login", "/dashboard"},
		{"/login?redirect=/contas", "/contas"},
		{LoginRedirect("/orcamentos?mes=3&ano=2024"), "/orcamentos?mes=3&ano=2024"},
		{"/login?redirect=//evil.example", "/dashboard"},
		{"/login?redirect=https://evil.example", "/dashboard"},
	}
	for _, tt := range tests {
		m, err := table.Resolve(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, RedirectTarget(m), tt.path)
	}
}

func TestGuard_ProtectedWithoutTokenRedirectsToLogin(t *testing.T) {
	s := &fakeSession{}
	g := newGuard(s)

	d, err := g.Evaluate(context.Background(), "/dashboard")
	require.NoError(t, err)

	assert.Equal(t, Redirect, d.Action)
	assert.Equal(t, "/login?redirect=/dashboard", d.Target)
	assert.Zero(t, s.fetchCalls, "no token means no identity fetch")
}

func TestGuard_LoginWhileAuthenticatedRedirectsToDashboard(t *testing.T) {
	s := &fakeSession{token: "tok", user: &client.User{ID: 1, Nome: "A"}}
	g := newGuard(s)

	d, err := g.Evaluate(context.Background(), "/login")
	require.NoError(t, err)

	assert.Equal(t, Redirect, d.Action)
	assert.Equal(t, "/dashboard", d.Target)
	assert.Zero(t, s.fetchCalls)
}

func TestGuard_TokenWithoutUserFetchesExactlyOnce(t *testing.T) {
	s := &fakeSession{token: "tok", fetchUser: &client.User{ID: 1, Nome: "A"}}
	g := newGuard(s)

	d, err := g.Evaluate(context.Background(), "/contas")
	require.NoError(t, err)

	assert.Equal(t, Allow, d.Action)
	assert.Equal(t, int32(1), s.fetchCalls)

	// The user is loaded now, so the next navigation does not fetch again
	_, err = g.Evaluate(context.Background(), "/metas")
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.fetchCalls)
}

func TestGuard_FailedFetchRedirects(t *testing.T) {
	s := &fakeSession{token: "stale", fetchErr: errors.New("boom")}
	g := newGuard(s)

	d, err := g.Evaluate(context.Background(), "/transacoes")
	require.NoError(t, err)

	assert.Equal(t, Redirect, d.Action)
	assert.Equal(t, "/login?redirect=/transacoes", d.Target)
	assert.Equal(t, int32(1), s.fetchCalls)
}

func TestGuard_PublicRoutesAllowed(t *testing.T) {
	s := &fakeSession{}
	g := newGuard(s)

	for _, p := range []string{"/", "/login", "/registro", "/convites/confirmar?token=x", "/nao-existe"} {
		d, err := g.Evaluate(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, Allow, d.Action, p)
	}
}

func TestGuard_AuthenticatedAllowedEverywhereButLogin(t *testing.T) {
	s := &fakeSession{token: "tok", user: &client.User{ID: 1}}
	g := newGuard(s)

	for _, r := range DefaultRoutes {
		if r.Pattern == PathLogin {
			continue
		}
		d, err := g.Evaluate(context.Background(), r.Pattern)
		require.NoError(t, err)
		assert.Equal(t, Allow, d.Action, r.Pattern)
	}
}

func TestNavigator_FollowsRedirectToLogin(t *testing.T) {
	nav := NewNavigator(newGuard(&fakeSession{}), zerolog.Nop())

	res, err := nav.Navigate(context.Background(), "/metas")
	require.NoError(t, err)

	assert.True(t, res.Redirected())
	assert.Equal(t, []string{"/login?redirect=/metas"}, res.Redirects)
	assert.Equal(t, PathLogin, res.Match.Path)
	assert.Equal(t, "/metas", RedirectTarget(res.Match))
	assert.Equal(t, PathLogin, nav.Current().Path)
}

func TestNavigator_LoginWhileAuthenticatedLandsOnDashboard(t *testing.T) {
	s := &fakeSession{token: "tok", user: &client.User{ID: 1}}
	nav := NewNavigator(newGuard(s), zerolog.Nop())

	res, err := nav.Navigate(context.Background(), "/login")
	require.NoError(t, err)

	assert.Equal(t, []string{"/dashboard"}, res.Redirects)
	assert.Equal(t, "dashboard", res.Match.Route.Name)
}

// loopSession claims a token and a user but never counts as authenticated
type loopSession struct{ fakeSession }

func (l *loopSession) IsAuthenticated() bool { return false }

func TestNavigator_StopsRedirectLoops(t *testing.T) {
	table := NewTable([]Route{
		{Name: "login", Pattern: "/login", RequiresAuth: true},
	})
	s := &loopSession{fakeSession{token: "tok", user: &client.User{ID: 1}}}
	nav := NewNavigator(NewGuard(table, s, zerolog.Nop()), zerolog.Nop())

	_, err := nav.Navigate(context.Background(), "/login")
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestNavigator_HandleUnauthorized(t *testing.T) {
	s := &fakeSession{token: "tok", user: &client.User{ID: 1}}
	nav := NewNavigator(newGuard(s), zerolog.Nop())

	_, err := nav.Navigate(context.Background(), "/contas/3/fatura")
	require.NoError(t, err)

	nav.HandleUnauthorized(client.UnauthorizedEvent{Method: "GET", Path: "/contas/3/fatura-atual"})
	assert.Equal(t, "/login?redirect=/contas/3/fatura", nav.TakePending())
	assert.Empty(t, nav.TakePending(), "pending redirect is consumed")
}

func TestNavigator_HandleUnauthorizedIgnoresLoginFailures(t *testing.T) {
	nav := NewNavigator(newGuard(&fakeSession{}), zerolog.Nop())

	nav.HandleUnauthorized(client.UnauthorizedEvent{Method: "POST", Path: client.PathLogin})
	assert.Empty(t, nav.TakePending())

	_, err := nav.Navigate(context.Background(), "/login")
	require.NoError(t, err)

	nav.HandleUnauthorized(client.UnauthorizedEvent{Method: "GET", Path: client.PathMe})
	assert.Empty(t, nav.TakePending(), "already on the login page")
}

func TestNavigator_HandleUnauthorizedFromPublicPage(t *testing.T) {
	nav := NewNavigator(newGuard(&fakeSession{}), zerolog.Nop())

	_, err := nav.Navigate(context.Background(), "/registro")
	require.NoError(t, err)

	nav.HandleUnauthorized(client.UnauthorizedEvent{Method: "GET", Path: client.PathMe})
	assert.Equal(t, PathLogin, nav.TakePending())
}

// The guard driven by a real session manager against the fake API
func TestGuard_WithSessionManager(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("a@b.com", "x", "A")
	token := srv.IssueToken("a@b.com")

	store := credstore.NewMemoryStore()
	require.NoError(t, store.SetToken(token))

	c := client.New(srv.BaseURL(), store)
	m, err := session.New(c, store)
	require.NoError(t, err)
	c.OnUnauthorized(m.HandleUnauthorized)

	nav := NewNavigator(NewGuard(NewTable(DefaultRoutes), m, zerolog.Nop()), zerolog.Nop())
	c.OnUnauthorized(nav.HandleUnauthorized)

	res, err := nav.Navigate(context.Background(), "/dashboard")
	require.NoError(t, err)
	assert.False(t, res.Redirected())
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 1, srv.Calls(client.PathMe))

	// The server forgets the token; the next API call sees a 401
	srv.RevokeTokens()
	_, err = c.ListContas(context.Background())
	require.ErrorIs(t, err, client.ErrUnauthorized)

	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, "/login?redirect=/dashboard", nav.TakePending())

	res, err = nav.Navigate(context.Background(), "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, PathLogin, res.Match.Path)
}
