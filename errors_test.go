package auth_test

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/ovigia/authd"
	"github.com/stretchr/testify/assert"
)

func TestTokenErrorClassifiers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		check    func(error) bool
		expected bool
	}{
		{name: "not found", err: auth.ErrTokenNotFound, check: auth.IsTokenNotFound, expected: true},
		{name: "expired", err: auth.ErrTokenExpired, check: auth.IsTokenExpiredError, expected: true},
		{name: "consumed", err: auth.ErrTokenConsumed, check: auth.IsTokenConsumed, expected: true},
		{name: "malformed", err: auth.ErrTokenMalformed, check: auth.IsMalformedError, expected: true},
		{name: "signature", err: auth.ErrSignatureInvalid, check: auth.IsSignatureInvalid, expected: true},
		{name: "invalid", err: auth.ErrInvalidToken, check: auth.IsInvalidToken, expected: true},
		{
			name:     "wrapped rich error",
			err:      goerrors.Wrap(auth.ErrTokenExpired, goerrors.CategoryInternal, "lookup failed"),
			check:    auth.IsTokenExpiredError,
			expected: true,
		},
		{
			name:     "fmt wrapped",
			err:      fmt.Errorf("store: %w", auth.ErrTokenConsumed),
			check:    auth.IsTokenConsumed,
			expected: true,
		},
		{
			name:     "string lookalike is not classified",
			err:      errors.New("token is expired"),
			check:    auth.IsTokenExpiredError,
			expected: false,
		},
		{name: "different rich error", err: auth.ErrIdentityNotFound, check: auth.IsTokenNotFound, expected: false},
		{name: "nil", err: nil, check: auth.IsMalformedError, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.check(tt.err))
		})
	}
}

func TestStructuredErrorProperties(t *testing.T) {
	t.Run("ErrIdentityNotFound", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryNotFound, auth.ErrIdentityNotFound.Category)
		assert.Equal(t, "identity not found", auth.ErrIdentityNotFound.Message)
	})

	t.Run("ErrMismatchedHashAndPassword", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, auth.ErrMismatchedHashAndPassword.Category)
		assert.Equal(t, auth.TextCodeInvalidCredentials, auth.ErrMismatchedHashAndPassword.TextCode)
		assert.Equal(t, goerrors.CodeUnauthorized, auth.ErrMismatchedHashAndPassword.Code)
	})

	t.Run("ErrInvalidToken", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryBadInput, auth.ErrInvalidToken.Category)
		assert.Equal(t, goerrors.CodeBadRequest, auth.ErrInvalidToken.Code)
	})

	t.Run("ErrEmailTaken", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, auth.ErrEmailTaken.Category)
		assert.Equal(t, auth.TextCodeEmailTaken, auth.ErrEmailTaken.TextCode)
	})

	t.Run("ErrNoEmptyString", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryValidation, auth.ErrNoEmptyString.Category)
		assert.Equal(t, auth.TextCodeEmptyPassword, auth.ErrNoEmptyString.TextCode)
	})
}
