package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ovigia/authd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenService(t *testing.T, opts ...auth.TokenServiceOption) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(testSigningKey, 24, opts...)
	require.NoError(t, err)
	return ts
}

func TestNewTokenServiceRejectsShortKey(t *testing.T) {
	_, err := auth.NewTokenService([]byte("short"), 24)
	require.Error(t, err)

	_, err = auth.NewTokenService(testSigningKey, 0)
	require.Error(t, err)
}

func TestTokenServiceRoundTrip(t *testing.T) {
	ts := newTestTokenService(t,
		auth.WithTokenServiceIssuer("authd"),
		auth.WithTokenServiceAudience("authd-clients"),
	)

	token, err := ts.Issue("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	subject, err := ts.DecodeSubject(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)
}

func TestTokenServiceIssueForCarriesRoleAndExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ts := newTestTokenService(t, auth.WithTokenServiceClock(func() time.Time { return now }))

	user := &auth.User{Email: "admin@example.com", Role: auth.RoleAdmin, Status: auth.UserStatusActive, EmailVerified: true}

	token, expiresAt, err := ts.IssueFor(user)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), expiresAt)

	claims, err := ts.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", claims.Subject())
	assert.Equal(t, "admin", claims.Role())
	assert.Equal(t, now, claims.IssuedAt().UTC())
	assert.Equal(t, expiresAt, claims.Expires().UTC())
	assert.NotEmpty(t, claims.ID)
}

func TestTokenServiceEmptySubject(t *testing.T) {
	ts := newTestTokenService(t)
	_, err := ts.Issue("")
	require.Error(t, err)
}

func TestTokenServiceExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	ts := newTestTokenService(t, auth.WithTokenServiceClock(func() time.Time { return clock() }))

	token, err := ts.Issue("bob@example.com")
	require.NoError(t, err)

	clock = func() time.Time { return now.Add(23 * time.Hour) }
	_, err = ts.DecodeSubject(token)
	require.NoError(t, err)

	clock = func() time.Time { return now.Add(25 * time.Hour) }
	_, err = ts.DecodeSubject(token)
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err))
}

func TestTokenServiceKeyRotation(t *testing.T) {
	old := newTestTokenService(t)
	token, err := old.Issue("carol@example.com")
	require.NoError(t, err)

	rotated, err := auth.NewTokenService([]byte("fedcba9876543210fedcba9876543210"), 24)
	require.NoError(t, err)

	_, err = rotated.DecodeSubject(token)
	require.Error(t, err)
	assert.True(t, auth.IsSignatureInvalid(err))
}

func TestTokenServiceRejectsOtherAlgorithms(t *testing.T) {
	ts := newTestTokenService(t)

	claims := jwt.RegisteredClaims{
		Subject:   "mallory@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	_, err = ts.DecodeSubject(hs512)
	assert.True(t, auth.IsSignatureInvalid(err))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.DecodeSubject(none)
	require.Error(t, err)
}

func TestTokenServiceMalformedInput(t *testing.T) {
	ts := newTestTokenService(t)

	cases := []string{"", "not-a-jwt", "a.b.c", "eyJhbGciOiJIUzI1NiJ9..sig"}
	for _, tc := range cases {
		t.Run(tc, func(t *testing.T) {
			_, err := ts.DecodeSubject(tc)
			require.Error(t, err)
			assert.True(t, auth.IsMalformedError(err))
		})
	}
}

func TestTokenServiceRequiresExpiry(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "dave@example.com",
	}).SignedString(testSigningKey)
	require.NoError(t, err)

	_, err = ts.DecodeSubject(token)
	require.Error(t, err)
	assert.True(t, auth.IsMalformedError(err))
}

func TestTokenServiceIssuerMismatch(t *testing.T) {
	issuerA := newTestTokenService(t, auth.WithTokenServiceIssuer("a"))
	issuerB := newTestTokenService(t, auth.WithTokenServiceIssuer("b"))

	token, err := issuerA.Issue("erin@example.com")
	require.NoError(t, err)

	_, err = issuerB.DecodeSubject(token)
	require.Error(t, err)
	assert.True(t, auth.IsMalformedError(err))
}

func TestTokenServiceValidate(t *testing.T) {
	ts := newTestTokenService(t)

	active := &auth.User{Email: "frank@example.com", Status: auth.UserStatusActive, EmailVerified: true}
	token, _, err := ts.IssueFor(active)
	require.NoError(t, err)

	t.Run("usable principal", func(t *testing.T) {
		assert.True(t, ts.Validate(token, active))
	})

	t.Run("different subject", func(t *testing.T) {
		other := &auth.User{Email: "grace@example.com", Status: auth.UserStatusActive, EmailVerified: true}
		assert.False(t, ts.Validate(token, other))
	})

	t.Run("locked principal", func(t *testing.T) {
		locked := &auth.User{Email: "frank@example.com", Status: auth.UserStatusLocked, EmailVerified: true}
		assert.False(t, ts.Validate(token, locked))
	})

	t.Run("unverified principal", func(t *testing.T) {
		pending := &auth.User{Email: "frank@example.com", Status: auth.UserStatusActive}
		assert.False(t, ts.Validate(token, pending))
	})

	t.Run("nil principal", func(t *testing.T) {
		assert.False(t, ts.Validate(token, nil))
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.False(t, ts.Validate("garbage", active))
	})
}
