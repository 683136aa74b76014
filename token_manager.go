package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// tokenValueBytes is the entropy of a generated token value (256 bits)
const tokenValueBytes = 32

const maxIssueAttempts = 3

// TokenGenerator produces opaque token values
type TokenGenerator func() (string, error)

// RandomTokenValue returns 32 random bytes, base64url encoded without padding
func RandomTokenValue() (string, error) {
	b := make([]byte, tokenValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenManager issues and consumes single-use tokens for email verification
// and password reset.
type TokenManager struct {
	store    TokenStore
	now      func() time.Time
	generate TokenGenerator
	logger   Logger
	metrics  *Metrics
}

type TokenManagerOption func(*TokenManager)

func WithTokenManagerClock(clock func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

func WithTokenGenerator(gen TokenGenerator) TokenManagerOption {
	return func(m *TokenManager) {
		if gen != nil {
			m.generate = gen
		}
	}
}

func WithTokenManagerLogger(logger Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithTokenManagerMetrics(metrics *Metrics) TokenManagerOption {
	return func(m *TokenManager) {
		m.metrics = metrics
	}
}

func NewTokenManager(store TokenStore, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		store:    store,
		now:      time.Now,
		generate: RandomTokenValue,
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Issue creates a token for (ownerID, purpose) valid for ttl and replaces
// any token the owner held for the same purpose. On failure no token is
// returned.
func (m *TokenManager) Issue(ctx context.Context, ownerID uuid.UUID, purpose TokenPurpose, ttl time.Duration) (*EphemeralToken, error) {
	if !purpose.Valid() {
		return nil, goerrors.New("unknown token purpose", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	if ttl <= 0 {
		return nil, goerrors.New("token ttl must be positive", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"ttl": ttl.String()})
	}

	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		value, err := m.generate()
		if err != nil {
			m.metrics.tokenOp("issue", purpose, err)
			return nil, err
		}

		now := m.now()
		token := &EphemeralToken{
			ID:        uuid.New(),
			Value:     value,
			Purpose:   purpose,
			OwnerID:   ownerID,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		}

		lastErr = m.store.Replace(ctx, token)
		if lastErr == nil {
			m.metrics.tokenOp("issue", purpose, nil)
			return token, nil
		}

		if !HasTextCode(lastErr, TextCodeTokenCollision) {
			break
		}

		m.logger.Warn("ephemeral token value collision, regenerating (attempt %d)", attempt+1)
	}

	m.metrics.tokenOp("issue", purpose, lastErr)
	return nil, lastErr
}

// Lookup returns the token stored for the exact (value, purpose) pair
func (m *TokenManager) Lookup(ctx context.Context, value string, purpose TokenPurpose) (*EphemeralToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	tok, err := m.store.Find(ctx, value, purpose)
	m.metrics.tokenOp("lookup", purpose, err)
	return tok, err
}

// Consume marks the token used and returns it. It fails with
// ErrTokenNotFound, ErrTokenConsumed or ErrTokenExpired; a token is
// consumed at most once.
func (m *TokenManager) Consume(ctx context.Context, value string, purpose TokenPurpose) (*EphemeralToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	tok, err := m.store.Consume(ctx, value, purpose, m.now())
	m.metrics.tokenOp("consume", purpose, err)
	return tok, err
}

// ConsumeTx is Consume run inside tx. Stores that cannot join a SQL
// transaction (memory, redis) consume immediately; their token stays spent
// if tx later rolls back.
func (m *TokenManager) ConsumeTx(ctx context.Context, tx bun.IDB, value string, purpose TokenPurpose) (*EphemeralToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}

	store := m.store
	if txStore, ok := store.(TxTokenStore); ok && tx != nil {
		store = txStore.WithTx(tx)
	}

	tok, err := store.Consume(ctx, value, purpose, m.now())
	m.metrics.tokenOp("consume", purpose, err)
	return tok, err
}

// IsValid never fails, any lookup error counts as invalid
func (m *TokenManager) IsValid(ctx context.Context, value string, purpose TokenPurpose) bool {
	if value == "" {
		return false
	}
	tok, err := m.store.Find(ctx, value, purpose)
	if err != nil {
		return false
	}
	return tok.IsValid(m.now())
}

// Prune deletes tokens that expired before now
func (m *TokenManager) Prune(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Debug("pruned %d expired ephemeral tokens", n)
	}
	return n, nil
}

// RunPruner prunes expired tokens every interval until ctx is done
func (m *TokenManager) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Prune(ctx); err != nil {
				m.logger.Error("failed to prune ephemeral tokens: %v", err)
			}
		}
	}
}
