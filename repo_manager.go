package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() Users
	Tokens() TokenStore
	Ping(ctx context.Context) error
}

type mngr struct {
	db     *bun.DB
	users  Users
	tokens TokenStore
}

type RepositoryManagerOption func(*mngr)

// WithTokenStore replaces the SQL token store, e.g. with the redis store
func WithTokenStore(store TokenStore) RepositoryManagerOption {
	return func(m *mngr) {
		if store != nil {
			m.tokens = store
		}
	}
}

func WithUsers(users Users) RepositoryManagerOption {
	return func(m *mngr) {
		if users != nil {
			m.users = users
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	m := &mngr{
		db:     db,
		users:  NewUsersRepository(db),
		tokens: NewSQLTokenStore(db),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Tokens() TokenStore {
	return m.tokens
}

func (m mngr) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
