package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ovigia/authd/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAuthCodeURL(t *testing.T) {
	provider := New(Config{
		ClientID:    "client-id",
		CallbackURL: "https://auth.example.com/login/oauth2/code/google",
	})

	parsed, err := url.Parse(provider.AuthCodeURL("state-token", "challenge"))
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "openid email profile", query.Get("scope"))
	assert.Equal(t, "challenge", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
}

func newGoogleServer(t *testing.T, userinfo string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			if r.PostForm.Get("code") != "auth-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "ya29.token",
				"token_type":   "Bearer",
				"expires_in":   3599,
				"scope":        "openid https://www.googleapis.com/auth/userinfo.email",
			})
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer ya29.token" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Request had invalid authentication credentials.","status":"UNAUTHENTICATED"}}`))
				return
			}
			_, _ = w.Write([]byte(userinfo))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestProvider(server *httptest.Server, now time.Time) *Provider {
	p := New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL + "/token",
		UserInfoURL:  server.URL + "/userinfo",
		HTTPClient:   server.Client(),
	})
	p.now = func() time.Time { return now }
	return p
}

func TestProviderExchangeAndUserInfo(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	server := newGoogleServer(t, `{"sub":"10769150350006150715113082367","email":"jane@example.com","email_verified":true,"name":"Jane Doe","picture":"https://lh3.googleusercontent.com/a/pic"}`)
	provider := newTestProvider(server, now)
	ctx := context.Background()

	token, err := provider.Exchange(ctx, "auth-code", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", token.AccessToken)
	assert.Equal(t, now.Add(3599*time.Second), token.ExpiresAt)
	assert.Len(t, token.Scopes, 2)

	profile, err := provider.UserInfo(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, &social.Profile{
		Provider:      "google",
		ID:            "10769150350006150715113082367",
		Email:         "jane@example.com",
		EmailVerified: true,
		Name:          "Jane Doe",
		AvatarURL:     "https://lh3.googleusercontent.com/a/pic",
	}, profile)
}

func TestProviderStringVerifiedFlag(t *testing.T) {
	server := newGoogleServer(t, `{"sub":"1","email":"jane@example.com","email_verified":"true"}`)
	provider := newTestProvider(server, time.Now())

	profile, err := provider.UserInfo(context.Background(), &social.Token{AccessToken: "ya29.token"})
	require.NoError(t, err)
	assert.True(t, profile.EmailVerified)
}

func TestProviderErrors(t *testing.T) {
	server := newGoogleServer(t, `{}`)
	provider := newTestProvider(server, time.Now())
	ctx := context.Background()

	_, err := provider.Exchange(ctx, "stale", "")
	var perr *social.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid_grant", perr.Code)
	assert.Equal(t, http.StatusBadRequest, perr.Status)

	_, err = provider.UserInfo(ctx, &social.Token{AccessToken: "expired"})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "UNAUTHENTICATED", perr.Code)
	assert.Equal(t, "user_info", perr.Operation)
}
