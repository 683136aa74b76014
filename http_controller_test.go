package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/ovigia/authd"
	"github.com/ovigia/authd/middleware/gateware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type apiServer struct {
	app      *fiber.App
	repo     auth.RepositoryManager
	notifier *capturingNotifier
	hasher   auth.PasswordHasher
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()

	db := newTestDB(t)
	repo := auth.NewRepositoryManager(db)
	registry := auth.NewRegistry()
	metrics := auth.NewMetrics(registry)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	notifier := &capturingNotifier{}
	logger := auth.NopLogger()

	codec := newTestTokenService(t, auth.WithTokenServiceMetrics(metrics))
	tokens := auth.NewTokenManager(repo.Tokens(), auth.WithTokenManagerMetrics(metrics), auth.WithTokenManagerLogger(logger))
	flows := auth.NewFlows(repo, tokens,
		auth.WithFlowHasher(hasher),
		auth.WithFlowNotifier(notifier),
		auth.WithFlowLogger(logger),
	)
	authenticator := auth.NewAuthenticator(repo.Users(), codec,
		auth.WithAuthenticatorHasher(hasher),
		auth.WithAuthenticatorLogger(logger),
		auth.WithAuthenticatorMetrics(metrics),
	)
	gate := auth.NewGate(codec, repo.Users(), auth.WithGateLogger(logger), auth.WithGateMetrics(metrics))

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			ErrorHandler:          auth.NewErrorHandler(logger),
			DisableStartupMessage: true,
		})
	})
	srv.Router().Use(gateware.New(gateware.Config{Gate: gate}))

	auth.RegisterAuthRoutes(srv.Router(),
		auth.WithControllerLogger(logger),
		auth.WithControllerRepo(repo),
		auth.WithControllerFlows(flows),
		auth.WithControllerAuthenticator(authenticator),
		auth.WithRouteGuards(gateware.RequireIdentity(), gateware.RequireRole(auth.RoleAdmin)),
	)
	auth.RegisterMetricsRoute(srv.WrappedRouter(), "/metrics", registry)

	return &apiServer{app: srv.WrappedRouter(), repo: repo, notifier: notifier, hasher: hasher}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *apiServer) call(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *apiServer) registerAndVerify(t *testing.T, email, password string) {
	t.Helper()

	status, _ := s.call(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": email, "password": password, "fullName": "Api User",
	})
	require.Equal(t, http.StatusCreated, status)

	n, ok := s.notifier.last()
	require.True(t, ok)
	status, _ = s.call(t, http.MethodPost, "/api/auth/verify-email", "", fiber.Map{"token": n.Token})
	require.Equal(t, http.StatusOK, status)
}

func (s *apiServer) login(t *testing.T, email, password string) string {
	t.Helper()

	status, resp := s.call(t, http.MethodPost, "/api/auth/login", "", fiber.Map{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, resp.Error)

	var result struct {
		Token     string `json:"token"`
		TokenType string `json:"tokenType"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, "Bearer", result.TokenType)
	return result.Token
}

func TestAPIRegistration(t *testing.T) {
	s := newAPIServer(t)

	status, resp := s.call(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "new@example.com", "password": "long-enough", "fullName": "New User",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, resp.Success)

	var user map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	assert.Equal(t, "new@example.com", user["email"])
	assert.Equal(t, string(auth.UserStatusPending), user["status"])
	assert.NotContains(t, user, "password_hash")

	status, resp = s.call(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "new@example.com", "password": "long-enough",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, resp.Success)

	status, resp = s.call(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, resp.Error)
}

func TestAPILoginLifecycle(t *testing.T) {
	s := newAPIServer(t)

	status, _ := s.call(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "life@example.com", "password": "long-enough",
	})
	require.Equal(t, http.StatusCreated, status)

	status, resp := s.call(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "life@example.com", "password": "long-enough",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid email or password", resp.Error)

	n, ok := s.notifier.last()
	require.True(t, ok)
	status, _ = s.call(t, http.MethodPost, "/api/auth/verify-email", "", fiber.Map{"token": n.Token})
	require.Equal(t, http.StatusOK, status)

	status, resp = s.call(t, http.MethodPost, "/api/auth/verify-email", "", fiber.Map{"token": n.Token})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid or expired token", resp.Error)

	token := s.login(t, "life@example.com", "long-enough")

	status, resp = s.call(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	var me map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, "life@example.com", me["email"])

	status, _ = s.call(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.call(t, http.MethodGet, "/api/users/me", "tampered."+token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPIProfileAndPassword(t *testing.T) {
	s := newAPIServer(t)
	s.registerAndVerify(t, "pro@example.com", "long-enough")
	token := s.login(t, "pro@example.com", "long-enough")

	status, resp := s.call(t, http.MethodPut, "/api/users/me", token, fiber.Map{
		"fullName": "Pro File",
		"phone":    "201-555-0123",
	})
	require.Equal(t, http.StatusOK, status, resp.Error)
	var me map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, "Pro File", me["full_name"])
	assert.Equal(t, "+12015550123", me["phone_number"])

	status, _ = s.call(t, http.MethodPut, "/api/users/me", token, fiber.Map{"phone": "123"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.call(t, http.MethodPost, "/api/users/me/password", token, fiber.Map{
		"currentPassword": "wrong-one", "newPassword": "even-longer",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.call(t, http.MethodPost, "/api/users/me/password", token, fiber.Map{
		"currentPassword": "long-enough", "newPassword": "even-longer",
	})
	require.Equal(t, http.StatusOK, status)

	s.login(t, "pro@example.com", "even-longer")
}

func TestAPIPasswordReset(t *testing.T) {
	s := newAPIServer(t)
	s.registerAndVerify(t, "reset@example.com", "long-enough")
	before := s.notifier.count()

	status, resp := s.call(t, http.MethodPost, "/api/auth/forgot-password", "", fiber.Map{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
	assert.Equal(t, before, s.notifier.count())

	status, _ = s.call(t, http.MethodPost, "/api/auth/forgot-password", "", fiber.Map{"email": "reset@example.com"})
	require.Equal(t, http.StatusOK, status)
	n, ok := s.notifier.last()
	require.True(t, ok)
	require.Equal(t, auth.PurposePasswordReset, n.Purpose)

	status, _ = s.call(t, http.MethodPost, "/api/auth/reset-password", "", fiber.Map{
		"token": n.Token, "newPassword": "brand-new-pw",
	})
	require.Equal(t, http.StatusOK, status)

	status, resp = s.call(t, http.MethodPost, "/api/auth/reset-password", "", fiber.Map{
		"token": n.Token, "newPassword": "another-pw",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid or expired token", resp.Error)

	s.login(t, "reset@example.com", "brand-new-pw")
}

func TestAPIAdminLockUnlock(t *testing.T) {
	s := newAPIServer(t)
	s.registerAndVerify(t, "target@example.com", "long-enough")

	hash, err := s.hasher.HashPassword("admin-password")
	require.NoError(t, err)
	seedUser(t, s.repo.Users(), "admin@example.com", func(u *auth.User) {
		u.PasswordHash = hash
		u.Role = auth.RoleAdmin
		u.Status = auth.UserStatusActive
		u.EmailVerified = true
	})

	adminToken := s.login(t, "admin@example.com", "admin-password")
	userToken := s.login(t, "target@example.com", "long-enough")

	target, err := s.repo.Users().FindByEmail(context.Background(), "target@example.com")
	require.NoError(t, err)
	lockPath := "/api/admin/users/" + target.ID.String() + "/lock"
	unlockPath := "/api/admin/users/" + target.ID.String() + "/unlock"

	status, _ := s.call(t, http.MethodPost, lockPath, userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := s.call(t, http.MethodPost, lockPath, adminToken, fiber.Map{"reason": "investigation"})
	require.Equal(t, http.StatusOK, status, resp.Error)

	status, _ = s.call(t, http.MethodGet, "/api/users/me", userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status, "locked users lose access immediately")

	status, resp = s.call(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "target@example.com", "password": "long-enough",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid email or password", resp.Error)

	status, _ = s.call(t, http.MethodPost, unlockPath, adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.call(t, http.MethodPost, unlockPath, adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status, "unlocking an active user")

	status, _ = s.call(t, http.MethodPost, "/api/admin/users/not-a-uuid/lock", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHealthAndMetrics(t *testing.T) {
	s := newAPIServer(t)

	status, resp := s.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	s.call(t, http.MethodGet, "/api/users/me", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(raw), "authd_gate_outcomes_total")
}

func TestAPIUnknownRoute(t *testing.T) {
	s := newAPIServer(t)

	status, resp := s.call(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.Success)
}
