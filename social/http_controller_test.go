package social_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/ovigia/authd"
	"github.com/ovigia/authd/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	profile      social.Profile
	lastVerifier string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) AuthCodeURL(state, challenge string) string {
	return "https://provider.example.com/authorize?" + url.Values{
		"state":          {state},
		"code_challenge": {challenge},
	}.Encode()
}

func (f *fakeProvider) Exchange(_ context.Context, code, verifier string) (*social.Token, error) {
	f.lastVerifier = verifier
	if code != "good-code" {
		return nil, &social.ProviderError{Provider: "fake", Operation: "exchange", Status: 400, Code: "invalid_grant"}
	}
	return &social.Token{AccessToken: "access"}, nil
}

func (f *fakeProvider) UserInfo(context.Context, *social.Token) (*social.Profile, error) {
	p := f.profile
	return &p, nil
}

type oauthFixture struct {
	app      *fiber.App
	provider *fakeProvider
	tokens   *auth.TokenService
}

func newOAuthFixture(t *testing.T, opts ...social.ControllerOption) *oauthFixture {
	t.Helper()

	db, err := auth.OpenDB(auth.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = auth.Migrate(context.Background(), db)
	require.NoError(t, err)

	repo := auth.NewRepositoryManager(db)
	tokens := auth.NewTokenManager(repo.Tokens(), auth.WithTokenManagerLogger(auth.NopLogger()))
	flows := auth.NewFlows(repo, tokens, auth.WithFlowLogger(auth.NopLogger()))

	codec, err := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), 1)
	require.NoError(t, err)
	authenticator := auth.NewAuthenticator(repo.Users(), codec, auth.WithAuthenticatorLogger(auth.NopLogger()))

	provider := &fakeProvider{profile: social.Profile{
		Provider:      "fake",
		ID:            "ext-1",
		Email:         "social@example.com",
		EmailVerified: true,
		Name:          "Social User",
	}}

	controller := social.NewController(
		social.NewRegistry(provider),
		social.NewStateCodec([]byte("state-secret-state-secret-state!!")),
		flows,
		authenticator,
		opts...,
	)

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			ErrorHandler:          auth.NewErrorHandler(auth.NopLogger()),
			DisableStartupMessage: true,
		})
	})
	controller.Register(srv.Router())

	return &oauthFixture{app: srv.WrappedRouter(), provider: provider, tokens: codec}
}

func (f *oauthFixture) get(t *testing.T, target string) *http.Response {
	t.Helper()
	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// authorize starts the flow and returns the state the provider would echo back
func (f *oauthFixture) authorize(t *testing.T) (string, string) {
	t.Helper()

	resp := f.get(t, "/oauth2/authorization/fake")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get(fiber.HeaderLocation))
	require.NoError(t, err)
	return location.Query().Get("state"), location.Query().Get("code_challenge")
}

func TestOAuthLoginProvisionsAndIssues(t *testing.T) {
	f := newOAuthFixture(t)

	state, challenge := f.authorize(t)
	require.NotEmpty(t, state)

	resp := f.get(t, "/login/oauth2/code/fake?"+url.Values{"code": {"good-code"}, "state": {state}}.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, challenge, social.CodeChallenge(f.provider.lastVerifier), "the verifier round-trips in the state")

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
			User  struct {
				Email  string `json:"email"`
				Status string `json:"status"`
			} `json:"user"`
		} `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))

	assert.True(t, body.Success)
	assert.Equal(t, "social@example.com", body.Data.User.Email)
	assert.Equal(t, string(auth.UserStatusActive), body.Data.User.Status)

	subject, err := f.tokens.DecodeSubject(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, "social@example.com", subject)
}

func TestOAuthSuccessRedirect(t *testing.T) {
	f := newOAuthFixture(t, social.WithSuccessRedirect("https://app.example.com/oauth/done"))
	state, _ := f.authorize(t)

	resp := f.get(t, "/login/oauth2/code/fake?"+url.Values{"code": {"good-code"}, "state": {state}}.Encode())
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get(fiber.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)

	fragment, err := url.ParseQuery(location.Fragment)
	require.NoError(t, err)
	assert.NotEmpty(t, fragment.Get("token"))
	assert.Equal(t, auth.TokenTypeBearer, fragment.Get("token_type"))
}

func TestOAuthCallbackRejections(t *testing.T) {
	f := newOAuthFixture(t)
	state, _ := f.authorize(t)

	cases := []struct {
		name   string
		target string
		status int
	}{
		{name: "unknown provider", target: "/oauth2/authorization/myspace", status: http.StatusNotFound},
		{name: "missing state", target: "/login/oauth2/code/fake?code=good-code", status: http.StatusBadRequest},
		{name: "forged state", target: "/login/oauth2/code/fake?code=good-code&state=forged", status: http.StatusBadRequest},
		{name: "missing code", target: "/login/oauth2/code/fake?state=" + url.QueryEscape(state), status: http.StatusBadRequest},
		{name: "bad code", target: "/login/oauth2/code/fake?code=bad&state=" + url.QueryEscape(state), status: http.StatusUnauthorized},
		{name: "user denied consent", target: "/login/oauth2/code/fake?error=access_denied", status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.get(t, tc.target)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestOAuthUnverifiedEmailIsRejected(t *testing.T) {
	f := newOAuthFixture(t)
	f.provider.profile.EmailVerified = false
	state, _ := f.authorize(t)

	resp := f.get(t, "/login/oauth2/code/fake?"+url.Values{"code": {"good-code"}, "state": {state}}.Encode())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOAuthListProviders(t *testing.T) {
	f := newOAuthFixture(t)

	resp := f.get(t, "/oauth2/providers")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"providers":["fake"]}}`, string(raw))
}
