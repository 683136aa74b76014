package auth_test

import (
	"context"
	"testing"

	"github.com/ovigia/authd"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := auth.OpenDB(auth.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = auth.Migrate(context.Background(), db)
	require.NoError(t, err)

	return db
}

func seedUser(t *testing.T, repo auth.Users, email string, mutate ...func(*auth.User)) *auth.User {
	t.Helper()

	user := &auth.User{
		Email:    email,
		FullName: "Test User",
	}
	for _, fn := range mutate {
		fn(user)
	}

	created, err := repo.Register(context.Background(), user)
	require.NoError(t, err)
	return created
}
