package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestResolveUserIdentifier(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	opts := resolveUserIdentifier(id.String())
	if assert.NotEmpty(t, opts) {
		assert.Equal(t, "id", opts[0].column)
		assert.Equal(t, id.String(), opts[0].value)
	}

	opts = resolveUserIdentifier("  Someone@Example.com ")
	if assert.Len(t, opts, 1) {
		assert.Equal(t, "email", opts[0].column)
		assert.Equal(t, "someone@example.com", opts[0].value)
	}

	assert.Empty(t, resolveUserIdentifier("   "))
}

func TestPrepareUserDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	u := &User{Email: " Mixed@Case.COM "}

	prepareUserDefaults(u, now)

	assert.Equal(t, "mixed@case.com", u.Email)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, UserStatusPending, u.Status)
	assert.NotEqual(t, uuid.Nil, u.ID)
	if assert.NotNil(t, u.CreatedAt) {
		assert.True(t, u.CreatedAt.Equal(now))
	}

	existing := uuid.New()
	admin := &User{ID: existing, Role: RoleAdmin, Status: UserStatusActive}
	prepareUserDefaults(admin, now)
	assert.Equal(t, existing, admin.ID)
	assert.Equal(t, RoleAdmin, admin.Role)
	assert.Equal(t, UserStatusActive, admin.Status)
}
