package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStore persists ephemeral tokens. Implementations must make Replace
// and Consume atomic: concurrent Replace calls for the same owner and
// purpose leave exactly one token, and a token is consumed at most once.
type TokenStore interface {
	// Replace removes any token held by (token.OwnerID, token.Purpose) and
	// stores token. A value already used by another token yields
	// ErrTokenCollision.
	Replace(ctx context.Context, token *EphemeralToken) error
	Find(ctx context.Context, value string, purpose TokenPurpose) (*EphemeralToken, error)
	// Consume flips the consumed flag if the token is valid at now.
	Consume(ctx context.Context, value string, purpose TokenPurpose, now time.Time) (*EphemeralToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TxTokenStore is implemented by stores that can join a SQL transaction,
// so a consumed token rolls back with the rest of the unit of work
type TxTokenStore interface {
	TokenStore
	WithTx(tx bun.IDB) TokenStore
}

type ownerPurpose struct {
	owner   uuid.UUID
	purpose TokenPurpose
}

// MemoryTokenStore keeps tokens in process memory
type MemoryTokenStore struct {
	mu      sync.Mutex
	byValue map[string]*EphemeralToken
	byOwner map[ownerPurpose]string
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		byValue: make(map[string]*EphemeralToken),
		byOwner: make(map[ownerPurpose]string),
	}
}

func (m *MemoryTokenStore) Replace(ctx context.Context, token *EphemeralToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byValue[token.Value]; exists {
		return ErrTokenCollision
	}

	key := ownerPurpose{owner: token.OwnerID, purpose: token.Purpose}
	if prior, ok := m.byOwner[key]; ok {
		delete(m.byValue, prior)
	}

	stored := *token
	m.byValue[token.Value] = &stored
	m.byOwner[key] = token.Value

	return nil
}

func (m *MemoryTokenStore) Find(ctx context.Context, value string, purpose TokenPurpose) (*EphemeralToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.byValue[value]
	if !ok || tok.Purpose != purpose {
		return nil, ErrTokenNotFound
	}

	out := *tok
	return &out, nil
}

func (m *MemoryTokenStore) Consume(ctx context.Context, value string, purpose TokenPurpose, now time.Time) (*EphemeralToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.byValue[value]
	if !ok || tok.Purpose != purpose {
		return nil, ErrTokenNotFound
	}

	if err := tok.check(now); err != nil {
		return nil, err
	}

	tok.Consumed = true
	out := *tok
	return &out, nil
}

func (m *MemoryTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for value, tok := range m.byValue {
		if tok.IsExpired(before) {
			delete(m.byValue, value)
			key := ownerPurpose{owner: tok.OwnerID, purpose: tok.Purpose}
			if m.byOwner[key] == value {
				delete(m.byOwner, key)
			}
			n++
		}
	}

	return n, nil
}

// Len returns the number of stored tokens
func (m *MemoryTokenStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byValue)
}
