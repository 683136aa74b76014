// Package storetest holds the behaviour every auth.TokenStore must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ovigia/authd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness is a fresh store plus a way to create token owners in it
type Harness struct {
	Store    auth.TokenStore
	NewOwner func(t *testing.T) uuid.UUID
}

// Factory builds an empty Harness for each subtest
type Factory func(t *testing.T) Harness

// Run exercises the TokenStore contract against the stores built by factory
func Run(t *testing.T, factory Factory) {
	t.Run("replace then find", func(t *testing.T) { testReplaceFind(t, factory(t)) })
	t.Run("purpose isolation", func(t *testing.T) { testPurposeIsolation(t, factory(t)) })
	t.Run("replace invalidates prior token", func(t *testing.T) { testReplaceInvalidates(t, factory(t)) })
	t.Run("consume once", func(t *testing.T) { testConsumeOnce(t, factory(t)) })
	t.Run("consume expired", func(t *testing.T) { testConsumeExpired(t, factory(t)) })
	t.Run("consume unknown", func(t *testing.T) { testConsumeUnknown(t, factory(t)) })
	t.Run("value collision", func(t *testing.T) { testCollision(t, factory(t)) })
	t.Run("delete expired", func(t *testing.T) { testDeleteExpired(t, factory(t)) })
	t.Run("concurrent consume", func(t *testing.T) { testConcurrentConsume(t, factory(t)) })
	t.Run("concurrent replace", func(t *testing.T) { testConcurrentReplace(t, factory(t)) })
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newToken(owner uuid.UUID, purpose auth.TokenPurpose, value string, now time.Time, ttl time.Duration) *auth.EphemeralToken {
	return &auth.EphemeralToken{
		ID:        uuid.New(),
		Value:     value,
		Purpose:   purpose,
		OwnerID:   owner,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func testReplaceFind(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	tok := newToken(owner, auth.PurposeEmailVerify, "value-1", now, time.Hour)
	require.NoError(t, h.Store.Replace(ctx, tok))

	found, err := h.Store.Find(ctx, "value-1", auth.PurposeEmailVerify)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, found.ID)
	assert.Equal(t, owner, found.OwnerID)
	assert.Equal(t, auth.PurposeEmailVerify, found.Purpose)
	assert.False(t, found.Consumed)
	assert.WithinDuration(t, tok.ExpiresAt, found.ExpiresAt, time.Millisecond)
	assert.WithinDuration(t, tok.IssuedAt, found.IssuedAt, time.Millisecond)
}

func testPurposeIsolation(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposeEmailVerify, "verify-v", now, time.Hour)))
	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposePasswordReset, "reset-v", now, time.Hour)))

	_, err := h.Store.Find(ctx, "verify-v", auth.PurposePasswordReset)
	assert.True(t, auth.IsTokenNotFound(err))

	_, err = h.Store.Consume(ctx, "reset-v", auth.PurposeEmailVerify, now)
	assert.True(t, auth.IsTokenNotFound(err))

	_, err = h.Store.Find(ctx, "verify-v", auth.PurposeEmailVerify)
	assert.NoError(t, err)
	_, err = h.Store.Find(ctx, "reset-v", auth.PurposePasswordReset)
	assert.NoError(t, err)
}

func testReplaceInvalidates(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposePasswordReset, "first", now, time.Hour)))
	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposePasswordReset, "second", now, time.Hour)))

	_, err := h.Store.Find(ctx, "first", auth.PurposePasswordReset)
	assert.True(t, auth.IsTokenNotFound(err))

	_, err = h.Store.Consume(ctx, "first", auth.PurposePasswordReset, now)
	assert.True(t, auth.IsTokenNotFound(err))

	tok, err := h.Store.Consume(ctx, "second", auth.PurposePasswordReset, now)
	require.NoError(t, err)
	assert.True(t, tok.Consumed)
}

func testConsumeOnce(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposeEmailVerify, "once", now, time.Hour)))

	tok, err := h.Store.Consume(ctx, "once", auth.PurposeEmailVerify, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, tok.Consumed)
	assert.Equal(t, owner, tok.OwnerID)

	_, err = h.Store.Consume(ctx, "once", auth.PurposeEmailVerify, now.Add(2*time.Minute))
	require.Error(t, err)
	assert.True(t, auth.IsTokenConsumed(err))

	found, err := h.Store.Find(ctx, "once", auth.PurposeEmailVerify)
	require.NoError(t, err)
	assert.True(t, found.Consumed)
}

func testConsumeExpired(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposePasswordReset, "stale", now, time.Hour)))

	_, err := h.Store.Consume(ctx, "stale", auth.PurposePasswordReset, now.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err))

	found, err := h.Store.Find(ctx, "stale", auth.PurposePasswordReset)
	require.NoError(t, err)
	assert.False(t, found.Consumed)
}

func testConsumeUnknown(t *testing.T, h Harness) {
	_, err := h.Store.Consume(context.Background(), "missing", auth.PurposeEmailVerify, baseTime())
	require.Error(t, err)
	assert.True(t, auth.IsTokenNotFound(err))

	_, err = h.Store.Find(context.Background(), "missing", auth.PurposeEmailVerify)
	assert.True(t, auth.IsTokenNotFound(err))
}

func testCollision(t *testing.T, h Harness) {
	ctx := context.Background()
	now := baseTime()
	alice := h.NewOwner(t)
	bob := h.NewOwner(t)

	require.NoError(t, h.Store.Replace(ctx, newToken(alice, auth.PurposeEmailVerify, "dup", now, time.Hour)))

	err := h.Store.Replace(ctx, newToken(bob, auth.PurposeEmailVerify, "dup", now, time.Hour))
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenCollision))

	found, err := h.Store.Find(ctx, "dup", auth.PurposeEmailVerify)
	require.NoError(t, err)
	assert.Equal(t, alice, found.OwnerID)
}

func testDeleteExpired(t *testing.T, h Harness) {
	ctx := context.Background()
	now := baseTime()

	require.NoError(t, h.Store.Replace(ctx, newToken(h.NewOwner(t), auth.PurposeEmailVerify, "old", now.Add(-2*time.Hour), time.Hour)))
	require.NoError(t, h.Store.Replace(ctx, newToken(h.NewOwner(t), auth.PurposeEmailVerify, "fresh", now, time.Hour)))

	n, err := h.Store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.Store.Find(ctx, "old", auth.PurposeEmailVerify)
	assert.True(t, auth.IsTokenNotFound(err))
	_, err = h.Store.Find(ctx, "fresh", auth.PurposeEmailVerify)
	assert.NoError(t, err)
}

func testConcurrentConsume(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	require.NoError(t, h.Store.Replace(ctx, newToken(owner, auth.PurposePasswordReset, "race", now, time.Hour)))

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Store.Consume(ctx, "race", auth.PurposePasswordReset, now); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func testConcurrentReplace(t *testing.T, h Harness) {
	ctx := context.Background()
	owner := h.NewOwner(t)
	now := baseTime()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.Store.Replace(ctx, newToken(owner, auth.PurposePasswordReset, fmt.Sprintf("concurrent-%d", i), now, time.Hour))
		}(i)
	}
	wg.Wait()

	live := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if _, err := h.Store.Find(ctx, fmt.Sprintf("concurrent-%d", i), auth.PurposePasswordReset); err == nil {
			live++
		}
	}

	assert.Equal(t, 1, live)
}
