package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ovigia/authd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testHasher = auth.NewBcryptHasher(bcrypt.MinCost)

func loginUser(t *testing.T, email, password string, mutate ...func(*auth.User)) *auth.User {
	t.Helper()

	hash, err := testHasher.HashPassword(password)
	require.NoError(t, err)

	user := &auth.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		Role:          auth.RoleUser,
		Status:        auth.UserStatusActive,
		EmailVerified: true,
	}
	for _, fn := range mutate {
		fn(user)
	}
	return user
}

func newTestAuthenticator(t *testing.T, store auth.LoginStore, opts ...auth.AuthenticatorOption) (*auth.Authenticator, *capturingSink) {
	t.Helper()

	sink := &capturingSink{}
	base := []auth.AuthenticatorOption{
		auth.WithAuthenticatorHasher(testHasher),
		auth.WithAuthenticatorLogger(auth.NopLogger()),
		auth.WithAuthenticatorActivitySink(sink),
	}
	return auth.NewAuthenticator(store, newTestTokenService(t), append(base, opts...)...), sink
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login", func(t *testing.T) {
		store := new(MockLoginStore)
		user := loginUser(t, "test@example.com", "password123")
		store.On("FindByEmail", ctx, "test@example.com").Return(user, nil).Once()
		store.On("TrackSuccessfulLogin", ctx, user).Return(nil).Once()

		authenticator, sink := newTestAuthenticator(t, store)

		result, err := authenticator.Login(ctx, "test@example.com", "password123")
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
		assert.Equal(t, auth.TokenTypeBearer, result.TokenType)
		assert.Same(t, user, result.User)
		assert.True(t, result.ExpiresAt.After(time.Now()))
		assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, sink.types())

		store.AssertExpectations(t)
	})

	t.Run("wrong password is tracked", func(t *testing.T) {
		store := new(MockLoginStore)
		user := loginUser(t, "test@example.com", "password123")
		store.On("FindByEmail", ctx, "test@example.com").Return(user, nil).Once()
		store.On("TrackAttemptedLogin", ctx, user).Return(nil).Once()

		authenticator, sink := newTestAuthenticator(t, store)

		result, err := authenticator.Login(ctx, "test@example.com", "wrong")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
		assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginFailure}, sink.types())

		store.AssertExpectations(t)
		store.AssertNotCalled(t, "TrackSuccessfulLogin", mock.Anything, mock.Anything)
	})

	t.Run("unknown email looks like a bad password", func(t *testing.T) {
		store := new(MockLoginStore)
		store.On("FindByEmail", ctx, "nobody@example.com").Return(nil, auth.ErrIdentityNotFound).Once()

		authenticator, _ := newTestAuthenticator(t, store)

		_, err := authenticator.Login(ctx, "nobody@example.com", "password123")
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
		store.AssertNotCalled(t, "TrackAttemptedLogin", mock.Anything, mock.Anything)
	})

	t.Run("store failure is not masked", func(t *testing.T) {
		store := new(MockLoginStore)
		store.On("FindByEmail", ctx, "test@example.com").Return(nil, errors.New("connection refused")).Once()

		authenticator, _ := newTestAuthenticator(t, store)

		_, err := authenticator.Login(ctx, "test@example.com", "password123")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := new(MockLoginStore)
		authenticator, _ := newTestAuthenticator(t, store)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := authenticator.Login(cctx, "test@example.com", "password123")
		require.Error(t, err)
		store.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	})
}

func TestLoginAccountStatus(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*auth.User)
	}{
		{name: "pending", mutate: func(u *auth.User) {
			u.Status = auth.UserStatusPending
			u.EmailVerified = false
		}},
		{name: "active but unverified", mutate: func(u *auth.User) { u.EmailVerified = false }},
		{name: "locked", mutate: func(u *auth.User) { u.Status = auth.UserStatusLocked }},
		{name: "inactive", mutate: func(u *auth.User) { u.Status = auth.UserStatusInactive }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := new(MockLoginStore)
			user := loginUser(t, "test@example.com", "password123", tc.mutate)
			store.On("FindByEmail", ctx, "test@example.com").Return(user, nil).Once()

			authenticator, _ := newTestAuthenticator(t, store)

			_, err := authenticator.Login(ctx, "test@example.com", "password123")
			assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
			store.AssertNotCalled(t, "TrackSuccessfulLogin", mock.Anything, mock.Anything)
		})
	}
}

func TestLoginThrottle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("too many attempts inside the window", func(t *testing.T) {
		store := new(MockLoginStore)
		recent := now.Add(-time.Hour)
		user := loginUser(t, "test@example.com", "password123", func(u *auth.User) {
			u.LoginAttempts = 3
			u.LoginAttemptAt = &recent
		})
		store.On("FindByEmail", ctx, "test@example.com").Return(user, nil).Once()

		authenticator, _ := newTestAuthenticator(t, store,
			auth.WithLoginThrottle(3, 24*time.Hour),
			auth.WithAuthenticatorClock(clock),
		)

		_, err := authenticator.Login(ctx, "test@example.com", "password123")
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword, "correct password is still rejected")
		store.AssertNotCalled(t, "TrackAttemptedLogin", mock.Anything, mock.Anything)
	})

	t.Run("attempts outside the window are forgotten", func(t *testing.T) {
		store := new(MockLoginStore)
		old := now.Add(-48 * time.Hour)
		user := loginUser(t, "test@example.com", "password123", func(u *auth.User) {
			u.LoginAttempts = 10
			u.LoginAttemptAt = &old
		})
		store.On("FindByEmail", ctx, "test@example.com").Return(user, nil).Once()
		store.On("TrackSuccessfulLogin", ctx, user).Return(nil).Once()

		authenticator, _ := newTestAuthenticator(t, store,
			auth.WithLoginThrottle(3, 24*time.Hour),
			auth.WithAuthenticatorClock(clock),
		)

		_, err := authenticator.Login(ctx, "test@example.com", "password123")
		require.NoError(t, err)
		store.AssertExpectations(t)
	})
}

func TestLoginAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := auth.NewUsersRepository(db)

	hash, err := testHasher.HashPassword("password123")
	require.NoError(t, err)
	seedUser(t, users, "db@example.com", func(u *auth.User) {
		u.PasswordHash = hash
		u.Status = auth.UserStatusActive
		u.EmailVerified = true
	})

	authenticator, _ := newTestAuthenticator(t, users, auth.WithLoginThrottle(2, time.Hour))

	for i := 0; i < 2; i++ {
		_, err := authenticator.Login(ctx, "db@example.com", "nope")
		require.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
	}

	stored, err := users.FindByEmail(ctx, "db@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.LoginAttempts)
	assert.NotNil(t, stored.LoginAttemptAt)

	_, err = authenticator.Login(ctx, "db@example.com", "password123")
	assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword, "throttled")

	require.NoError(t, users.ResetPassword(ctx, stored.ID, hash))

	result, err := authenticator.Login(ctx, "db@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, result.User.ID)

	stored, err = users.FindByEmail(ctx, "db@example.com")
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.NotNil(t, stored.LoggedInAt)
}

func TestAuthenticatorIssue(t *testing.T) {
	authenticator, _ := newTestAuthenticator(t, new(MockLoginStore))
	user := loginUser(t, "admin@example.com", "pw", func(u *auth.User) { u.Role = auth.RoleAdmin })

	result, err := authenticator.Issue(user)
	require.NoError(t, err)

	claims, err := newTestTokenService(t).Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", claims.Subject())
	assert.Equal(t, "admin", claims.Role())
}
