package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ovigia/authd"
	"github.com/ovigia/authd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// useTempDatabase points the commands at a fresh sqlite file
func useTempDatabase(t *testing.T) string {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "authd.db")
	t.Setenv("AUTH_DATABASE_DSN", dsn)
	t.Setenv("AUTH_BEARER_SIGNING_KEY", testKey)
	t.Setenv("AUTH_LOG_LEVEL", "error")
	return dsn
}

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "migrate", "prune-tokens", "lock-user", "unlock-user"} {
		assert.Contains(t, out, sub)
	}
}

func TestCommandsRejectInvalidConfig(t *testing.T) {
	t.Setenv("AUTH_BEARER_SIGNING_KEY", "short")

	_, err := run(t, "migrate")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, "INVALID_CONFIG"))
}

func TestMigrateAndPrune(t *testing.T) {
	useTempDatabase(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "database at version")

	out, err = run(t, "prune-tokens", "--store", "sql")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 expired tokens")
}

func TestLockAndUnlockUser(t *testing.T) {
	dsn := useTempDatabase(t)

	db, err := auth.OpenDB(auth.DriverSQLite, dsn)
	require.NoError(t, err)
	_, err = auth.Migrate(context.Background(), db)
	require.NoError(t, err)
	_, err = auth.NewUsersRepository(db).Create(context.Background(), &auth.User{
		Email:         "ops@example.com",
		Status:        auth.UserStatusActive,
		EmailVerified: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := run(t, "lock-user", "ops@example.com", "--reason", "chargeback")
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com is now LOCKED")

	out, err = run(t, "unlock-user", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com is now ACTIVE")

	_, err = run(t, "unlock-user", "ops@example.com")
	assert.Error(t, err, "only locked users can be unlocked")

	_, err = run(t, "lock-user", "nobody@example.com")
	assert.True(t, auth.IsIdentityNotFound(err))
}

func testApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()

	cfg := config.Default()
	cfg.Bearer.SigningKey = testKey
	cfg.Database.DSN = ":memory:"
	cfg.Store.Backend = config.StoreMemory
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestHandlerServesAPI(t *testing.T) {
	a := testApp(t, nil)
	srv := a.handler().WrappedRouter()

	resp, err := srv.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Test(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = srv.Test(httptest.NewRequest(http.MethodGet, "/oauth2/providers", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "external login is off without providers")
}

func TestHandlerMountsConfiguredProviders(t *testing.T) {
	a := testApp(t, func(cfg *config.Config) {
		cfg.OAuth.StateSecret = testKey
		cfg.OAuth.GitHub.ClientID = "gh-id"
		cfg.OAuth.GitHub.ClientSecret = "gh-secret"
	})
	srv := a.handler().WrappedRouter()

	resp, err := srv.Test(httptest.NewRequest(http.MethodGet, "/oauth2/providers", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"providers":["github"]}}`, string(raw))
}
