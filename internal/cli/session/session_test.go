package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/financas-app/financas/internal/cli/apitest"
	"github.com/financas-app/financas/internal/cli/client"
	"github.com/financas-app/financas/internal/cli/credstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAPI lets tests script the gateway
type stubAPI struct {
	loginToken string
	loginErr   error
	meUser     *client.User
	meErr      error
	meDelay    time.Duration
	meCalls    int32
	registered []client.RegisterRequest
}

func (s *stubAPI) Login(ctx context.Context, email, password string) (string, error) {
	return s.loginToken, s.loginErr
}

func (s *stubAPI) Register(ctx context.Context, req client.RegisterRequest) (*client.User, error) {
	s.registered = append(s.registered, req)
	return &client.User{ID: 10, Email: req.Email, Nome: req.Nome, Role: req.Role}, nil
}

func (s *stubAPI) Me(ctx context.Context) (*client.User, error) {
	atomic.AddInt32(&s.meCalls, 1)
	if s.meDelay > 0 {
		time.Sleep(s.meDelay)
	}
	if s.meErr != nil {
		return nil, s.meErr
	}
	u := *s.meUser
	return &u, nil
}

func newManager(t *testing.T, api API, store credstore.Store) *Manager {
	t.Helper()
	m, err := New(api, store)
	require.NoError(t, err)
	return m
}

func newLiveManager(t *testing.T) (*apitest.Server, *credstore.MemoryStore, *client.Client, *Manager) {
	t.Helper()
	srv := apitest.New(t)
	store := credstore.NewMemoryStore()
	c := client.New(srv.BaseURL(), store)
	m := newManager(t, c, store)
	c.OnUnauthorized(m.HandleUnauthorized)
	return srv, store, c, m
}

func TestLogin_Scenario(t *testing.T) {
	srv, store, _, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")
	srv.PresetToken("a@b.com", "tok1")

	ok := m.Login(context.Background(), "a@b.com", "x")
	require.True(t, ok, "login failed: %s", m.Error())

	assert.True(t, m.IsAuthenticated())
	require.NotNil(t, m.User())
	assert.Equal(t, "A", m.User().Nome)
	assert.Equal(t, StateAuthenticated, m.State())

	cred, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "tok1", cred.AccessToken)

	// token persisted before /auth/me was called with it
	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, client.PathLogin, reqs[0].Path)
	assert.Equal(t, client.PathMe, reqs[1].Path)
	assert.Equal(t, "Bearer tok1", reqs[1].Authorization)
}

func TestLogin_ThenLogout_ReturnsToAnonymous(t *testing.T) {
	srv, store, _, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")

	for i := 0; i < 3; i++ {
		require.True(t, m.Login(context.Background(), "a@b.com", "x"))
		require.NoError(t, m.ActAs("5"))

		m.Logout()

		assert.False(t, m.IsAuthenticated())
		assert.False(t, m.HasToken())
		assert.Nil(t, m.User())
		assert.Empty(t, m.ActingAs())
		assert.Equal(t, StateAnonymous, m.State())

		cred, err := store.Get()
		require.NoError(t, err)
		assert.Equal(t, credstore.Credential{}, cred)
	}

	// Idempotent
	m.Logout()
	assert.Equal(t, StateAnonymous, m.State())
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, store, _, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")
	require.NoError(t, store.SetToken("stale"))

	ok := m.Login(context.Background(), "a@b.com", "wrong")
	assert.False(t, ok)
	assert.Equal(t, "Incorrect email or password", m.Error())
	assert.False(t, m.IsAuthenticated())

	cred, _ := store.Get()
	assert.Empty(t, cred.AccessToken)
}

func TestLogin_GenericMessageWithoutDetail(t *testing.T) {
	api := &stubAPI{loginErr: errors.New("connection refused")}
	m := newManager(t, api, credstore.NewMemoryStore())

	assert.False(t, m.Login(context.Background(), "a@b.com", "x"))
	assert.Equal(t, MsgLoginFailed, m.Error())
}

func TestLogin_ClearsPreviousError(t *testing.T) {
	api := &stubAPI{loginErr: errors.New("boom")}
	m := newManager(t, api, credstore.NewMemoryStore())
	require.False(t, m.Login(context.Background(), "a@b.com", "x"))
	require.NotEmpty(t, m.Error())

	api.loginErr = nil
	api.loginToken = "tok"
	api.meUser = &client.User{ID: 1, Nome: "A"}
	require.True(t, m.Login(context.Background(), "a@b.com", "x"))
	assert.Empty(t, m.Error())
}

func TestLogin_FetchFailureEndsAnonymous(t *testing.T) {
	api := &stubAPI{loginToken: "tok", meErr: errors.New("network down")}
	store := credstore.NewMemoryStore()
	m := newManager(t, api, store)

	assert.False(t, m.Login(context.Background(), "a@b.com", "x"))
	assert.Equal(t, MsgLoginFailed, m.Error())
	assert.Equal(t, StateAnonymous, m.State())

	cred, _ := store.Get()
	assert.Empty(t, cred.AccessToken)
}

func TestIsAuthenticated_TruthTable(t *testing.T) {
	tests := []struct {
		name  string
		token string
		user  *client.User
		want  bool
	}{
		{"no token no user", "", nil, false},
		{"token no user", "tok", nil, false},
		{"user no token", "", &client.User{ID: 1}, false},
		{"token and user", "tok", &client.User{ID: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, &stubAPI{}, credstore.NewMemoryStore())
			m.token = tt.token
			m.user = tt.user

			assert.Equal(t, tt.want, m.IsAuthenticated())
			assert.Equal(t, tt.want, m.Snapshot().Authenticated())
		})
	}
}

func TestFetchUser_NetworkFailureLogsOut(t *testing.T) {
	srv, store, _, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")
	require.True(t, m.Login(context.Background(), "a@b.com", "x"))
	require.NoError(t, m.ActAs("3"))

	// The API becomes unreachable
	srv.Close()

	err := m.FetchUser(context.Background())
	require.Error(t, err)
	var netErr *client.NetworkError
	assert.True(t, errors.As(err, &netErr))

	assert.Equal(t, StateAnonymous, m.State())
	assert.Nil(t, m.User())
	cred, _ := store.Get()
	assert.Equal(t, credstore.Credential{}, cred)
}

func TestFetchUser_ServerErrorLogsOut(t *testing.T) {
	srv, store, _, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")
	require.True(t, m.Login(context.Background(), "a@b.com", "x"))

	srv.ForceStatus(client.PathMe, http.StatusInternalServerError)
	require.Error(t, m.FetchUser(context.Background()))

	assert.False(t, m.IsAuthenticated())
	cred, _ := store.Get()
	assert.Empty(t, cred.AccessToken)
}

func TestFetchUser_WithoutTokenSkipsNetwork(t *testing.T) {
	api := &stubAPI{meUser: &client.User{ID: 1}}
	m := newManager(t, api, credstore.NewMemoryStore())

	err := m.FetchUser(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.EqualValues(t, 0, atomic.LoadInt32(&api.meCalls))
}

func TestFetchUser_CoalescesConcurrentCalls(t *testing.T) {
	api := &stubAPI{meUser: &client.User{ID: 1, Nome: "A"}, meDelay: 50 * time.Millisecond}
	store := credstore.NewMemoryStore()
	require.NoError(t, store.SetToken("tok"))
	m := newManager(t, api, store)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.FetchUser(context.Background())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&api.meCalls))
	assert.True(t, m.IsAuthenticated())
}

func TestInit_RehydratesFromPersistedToken(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("a@b.com", "x", "A")
	store := credstore.NewMemoryStore()
	require.NoError(t, store.SetToken(srv.IssueToken("a@b.com")))

	m := newManager(t, client.New(srv.BaseURL(), store), store)
	assert.True(t, m.HasToken())
	assert.False(t, m.IsAuthenticated(), "construction must not fetch")

	require.NoError(t, m.Init(context.Background()))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 1, srv.Calls(client.PathMe))
}

func TestInit_WithoutTokenIsNoop(t *testing.T) {
	api := &stubAPI{}
	m := newManager(t, api, credstore.NewMemoryStore())

	require.NoError(t, m.Init(context.Background()))
	assert.EqualValues(t, 0, atomic.LoadInt32(&api.meCalls))
}

func TestInit_RevokedTokenEndsAnonymous(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("a@b.com", "x", "A")
	store := credstore.NewMemoryStore()
	require.NoError(t, store.SetToken(srv.IssueToken("a@b.com")))
	srv.RevokeTokens()

	c := client.New(srv.BaseURL(), store)
	m := newManager(t, c, store)
	c.OnUnauthorized(m.HandleUnauthorized)

	require.Error(t, m.Init(context.Background()))
	assert.Equal(t, StateAnonymous, m.State())
	assert.False(t, m.HasToken())
}

func TestHandleUnauthorized_ResetsSession(t *testing.T) {
	srv, store, c, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")
	require.True(t, m.Login(context.Background(), "a@b.com", "x"))

	srv.RevokeTokens()
	_, err := c.ListContas(context.Background())
	require.ErrorIs(t, err, client.ErrUnauthorized)

	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.User())
	cred, _ := store.Get()
	assert.Equal(t, credstore.Credential{}, cred)
}

func TestRegister(t *testing.T) {
	api := &stubAPI{}
	m := newManager(t, api, credstore.NewMemoryStore())

	ok := m.Register(context.Background(), client.RegisterRequest{Email: "n@b.com", Password: "secret1", Nome: "N"})
	require.True(t, ok)
	require.Len(t, api.registered, 1)
	assert.Equal(t, client.RoleUser, api.registered[0].Role)
	assert.False(t, m.IsAuthenticated(), "register must not log in")
}

func TestRegister_LocalValidation(t *testing.T) {
	api := &stubAPI{}
	m := newManager(t, api, credstore.NewMemoryStore())

	ok := m.Register(context.Background(), client.RegisterRequest{Email: "not-an-email", Password: "x"})
	assert.False(t, ok)
	assert.Contains(t, m.Error(), "email inválido")
	assert.Contains(t, m.Error(), "nome é obrigatório")
	assert.Empty(t, api.registered)
}

func TestRegister_LeavesPasswordRulesToAPI(t *testing.T) {
	srv, _, _, m := newLiveManager(t)

	ok := m.Register(context.Background(), client.RegisterRequest{Email: "a@b.com", Password: "x", Nome: "A"})
	require.True(t, ok, m.Error())
	assert.Equal(t, 1, srv.Calls(client.PathRegister))
}

func TestRegister_APIDetail(t *testing.T) {
	srv, _, _, m := newLiveManager(t)
	srv.AddUser("a@b.com", "x", "A")

	ok := m.Register(context.Background(), client.RegisterRequest{Email: "a@b.com", Password: "secret1", Nome: "A"})
	assert.False(t, ok)
	assert.Equal(t, "Email already registered", m.Error())
}

func TestActAs(t *testing.T) {
	store := credstore.NewMemoryStore()
	m := newManager(t, &stubAPI{}, store)
	assert.ErrorIs(t, m.ActAs("2"), ErrNotAuthenticated)

	require.NoError(t, store.SetToken("tok"))
	m = newManager(t, &stubAPI{}, store)
	require.NoError(t, m.ActAs("2"))
	assert.Equal(t, "2", m.ActingAs())

	cred, _ := store.Get()
	assert.Equal(t, "2", cred.ActingAsUserID)

	require.NoError(t, m.ActAs(""))
	cred, _ = store.Get()
	assert.Empty(t, cred.ActingAsUserID)
}

func TestSnapshot_TokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "a@b.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	store := credstore.NewMemoryStore()
	require.NoError(t, store.SetToken(token))
	m := newManager(t, &stubAPI{}, store)

	st := m.Snapshot()
	assert.True(t, st.HasToken)
	assert.True(t, st.TokenExpiry.Equal(exp))

	claims, err := ParseTokenClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", claims.Subject)
	assert.False(t, claims.Expired(time.Now()))
	assert.True(t, claims.Expired(exp.Add(time.Minute)))
}

func TestParseTokenClaims_Opaque(t *testing.T) {
	_, err := ParseTokenClaims("tok1")
	assert.Error(t, err)
}
