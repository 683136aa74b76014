package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// MaxLoginAttempts is the maximum number of failed attempts a user gets
// within CoolDownPeriod
var MaxLoginAttempts = 5

// CoolDownPeriod is the window failed attempts are counted in
var CoolDownPeriod = 24 * time.Hour

// TokenTypeBearer is the token type reported to clients
const TokenTypeBearer = "Bearer"

// LoginStore is what login needs from the user repository
type LoginStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

// Authenticator verifies credentials and issues bearer tokens
type Authenticator struct {
	users        LoginStore
	tokens       *TokenService
	hasher       PasswordHasher
	maxAttempts  int
	cooldown     time.Duration
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
	metrics      *Metrics

	dummyOnce sync.Once
	dummyHash string
}

type AuthenticatorOption func(*Authenticator)

func WithAuthenticatorHasher(hasher PasswordHasher) AuthenticatorOption {
	return func(a *Authenticator) {
		if hasher != nil {
			a.hasher = hasher
		}
	}
}

// WithLoginThrottle overrides MaxLoginAttempts and CoolDownPeriod
func WithLoginThrottle(maxAttempts int, cooldown time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if cooldown > 0 {
			a.cooldown = cooldown
		}
	}
}

func WithAuthenticatorClock(clock func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if clock != nil {
			a.now = clock
		}
	}
}

func WithAuthenticatorLogger(logger Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuthenticatorActivitySink configures an ActivitySink for emitting auth events.
func WithAuthenticatorActivitySink(sink ActivitySink) AuthenticatorOption {
	return func(a *Authenticator) {
		a.activitySink = normalizeActivitySink(sink)
	}
}

func WithAuthenticatorMetrics(metrics *Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users LoginStore, tokens *TokenService, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		users:        users,
		tokens:       tokens,
		hasher:       NewBcryptHasher(0),
		maxAttempts:  MaxLoginAttempts,
		cooldown:     CoolDownPeriod,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// Login checks email and password and issues a bearer token. Every
// credential or account state failure is reported as
// ErrMismatchedHashAndPassword; the cause is only logged.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	result, err := a.login(ctx, email, password)
	a.metrics.loginAttempt(err)
	return result, err
}

func (a *Authenticator) login(ctx context.Context, email, password string) (*LoginResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "context cancelled during login")
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		if !goerrors.IsNotFound(err) && !HasTextCode(err, TextCodeIdentityNotFound) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during login")
		}
		// spend the same time as a real comparison
		_ = a.hasher.ComparePasswordAndHash(password, a.timingHash())
		return nil, a.reject(ctx, nil, email, "unknown_email")
	}

	now := a.now()
	attempts := user.LoginAttempts
	if user.LoginAttemptAt != nil && !withinWindow(now, *user.LoginAttemptAt, a.cooldown) {
		attempts = 0
	}
	user.LoginAttempts = attempts

	if attempts >= a.maxAttempts {
		return nil, a.reject(ctx, user, email, "too_many_attempts")
	}

	if err := a.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err := a.users.TrackAttemptedLogin(ctx, user); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login attempt")
		}
		return nil, a.reject(ctx, user, email, "bad_password")
	}

	if err := accountStatusError(user); err != nil {
		return nil, a.reject(ctx, user, email, err.Error())
	}

	if err := a.users.TrackSuccessfulLogin(ctx, user); err != nil {
		a.logger.Error("failed to track successful login: %v", err)
	}

	result, err := a.Issue(user)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEventLoginSuccess, user, map[string]any{"email": user.Email})
	return result, nil
}

// Issue creates the login result for an already authenticated user
func (a *Authenticator) Issue(user *User) (*LoginResult, error) {
	token, expiresAt, err := a.tokens.IssueFor(user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		TokenType: TokenTypeBearer,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

func (a *Authenticator) reject(ctx context.Context, user *User, email, reason string) error {
	a.logger.Debug("login rejected email=%s reason=%s", email, reason)
	a.emit(ctx, ActivityEventLoginFailure, user, map[string]any{
		"email":  email,
		"reason": reason,
	})
	return ErrMismatchedHashAndPassword
}

func (a *Authenticator) emit(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType: eventType,
		Actor:     ActorRef{Type: "unknown"},
		Metadata:  metadata,
	}
	if user != nil {
		event.UserID = user.ID.String()
		event.Actor = ActorRef{ID: user.ID.String(), Type: "user"}
	}
	recordActivity(ctx, a.activitySink, a.logger, a.now, event)
}

func (a *Authenticator) timingHash() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = a.hasher.HashPassword("timing-equalizer")
	})
	return a.dummyHash
}

// accountStatusError explains why a user with valid credentials may not
// sign in
func accountStatusError(user *User) error {
	user.EnsureStatus()
	switch user.Status {
	case UserStatusActive:
		if !user.EmailVerified {
			return ErrUserPending
		}
		return nil
	case UserStatusPending:
		return ErrUserPending
	case UserStatusLocked:
		return ErrUserLocked
	case UserStatusInactive:
		return ErrUserInactive
	default:
		return ErrUserInactive
	}
}
