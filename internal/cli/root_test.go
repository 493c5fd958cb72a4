package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/financas-app/financas/internal/cli/apitest"
	"github.com/financas-app/financas/internal/cli/commands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, env *commands.Env, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("FINANCAS_CONFIG", filepath.Join(dir, "config.yaml"))

	var out bytes.Buffer
	root := NewRootCmd(env)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRoot_VersionSkipsSession(t *testing.T) {
	env := &commands.Env{}

	out, err := runRoot(t, env, "version")
	require.NoError(t, err)

	assert.Equal(t, "financas version dev\n", out)
	assert.Nil(t, env.App, "no session is built for version")
}

func TestRoot_GuardedPageWithoutSession(t *testing.T) {
	srv := apitest.New(t)
	env := &commands.Env{}

	_, err := runRoot(t, env, "--api-url", srv.BaseURL(), "--credential-store", "memory", "open", "/dashboard")
	require.ErrorIs(t, err, commands.ErrLoginRequired)

	require.NotNil(t, env.App)
	assert.Equal(t, srv.BaseURL(), env.App.Client.BaseURL())
	assert.Empty(t, srv.Requests())
}

func TestRoot_PublicPage(t *testing.T) {
	srv := apitest.New(t)
	env := &commands.Env{}

	out, err := runRoot(t, env, "--api-url", srv.BaseURL(), "--credential-store", "memory", "open", "/")
	require.NoError(t, err)
	assert.Contains(t, out, "financas login")
	assert.Contains(t, out, "/contas/{id}/fatura")
}

func TestRoot_LoginThroughFileStore(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("ana@example.com", "secret1", "Ana")
	creds := filepath.Join(t.TempDir(), "credentials.json")
	t.Setenv("FINANCAS_CREDENTIALS_FILE", creds)

	base := []string{"--api-url", srv.BaseURL(), "--credential-store", "file"}

	_, err := runRoot(t, &commands.Env{}, append(base, "login", "--email", "ana@example.com", "--password", "secret1")...)
	require.NoError(t, err)

	// A new process picks the session up from the file
	out, err := runRoot(t, &commands.Env{}, append(base, "whoami")...)
	require.NoError(t, err)
	assert.Equal(t, "Ana (ana@example.com)\n", out)

	_, err = runRoot(t, &commands.Env{}, append(base, "logout")...)
	require.NoError(t, err)

	_, err = runRoot(t, &commands.Env{}, append(base, "whoami")...)
	assert.ErrorIs(t, err, commands.ErrLoginRequired)
}

func TestRoot_InvalidFlag(t *testing.T) {
	_, err := runRoot(t, &commands.Env{}, "--credential-store", "vault", "status")
	assert.Error(t, err)
}
