package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// SQLTokenStore stores tokens in the ephemeral_tokens table. The table
// carries UNIQUE(value) and UNIQUE(owner_id, purpose); Replace relies on the
// latter through a single upsert statement.
type SQLTokenStore struct {
	db bun.IDB
}

var _ TxTokenStore = (*SQLTokenStore)(nil)

func NewSQLTokenStore(db bun.IDB) *SQLTokenStore {
	return &SQLTokenStore{db: db}
}

// WithTx returns a store bound to tx
func (s *SQLTokenStore) WithTx(tx bun.IDB) TokenStore {
	return &SQLTokenStore{db: tx}
}

func (s *SQLTokenStore) Replace(ctx context.Context, token *EphemeralToken) error {
	record := *token
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.IssuedAt = record.IssuedAt.UTC()

	_, err := s.db.NewInsert().
		Model(&record).
		On("CONFLICT (owner_id, purpose) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Set("issued_at = EXCLUDED.issued_at").
		Set("consumed = EXCLUDED.consumed").
		Exec(ctx)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenCollision
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store ephemeral token")
	}

	return nil
}

func (s *SQLTokenStore) Find(ctx context.Context, value string, purpose TokenPurpose) (*EphemeralToken, error) {
	record := &EphemeralToken{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.value = ?", value).
		Where("?TableAlias.purpose = ?", purpose).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load ephemeral token")
	}

	return record, nil
}

func (s *SQLTokenStore) Consume(ctx context.Context, value string, purpose TokenPurpose, now time.Time) (*EphemeralToken, error) {
	res, err := s.db.NewUpdate().
		Model((*EphemeralToken)(nil)).
		Set("consumed = ?", true).
		Where("value = ?", value).
		Where("purpose = ?", purpose).
		Where("consumed = ?", false).
		Where("expires_at > ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume ephemeral token")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume ephemeral token")
	}

	record, err := s.Find(ctx, value, purpose)
	if err != nil {
		return nil, err
	}

	if n == 1 {
		return record, nil
	}

	if err := record.check(now); err != nil {
		return nil, err
	}

	// lost a race with another consumer between the update and the read
	return nil, ErrTokenConsumed
}

func (s *SQLTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*EphemeralToken)(nil)).
		Where("expires_at <= ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to prune ephemeral tokens")
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
