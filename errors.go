package auth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTokenNotFound         = "TOKEN_NOT_FOUND"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenConsumed         = "TOKEN_CONSUMED"
	TextCodeTokenMalformed        = "TOKEN_MALFORMED"
	TextCodeTokenSignatureInvalid = "TOKEN_SIGNATURE_INVALID"
	TextCodeTokenInvalid          = "TOKEN_INVALID"
	TextCodeTokenCollision        = "TOKEN_VALUE_COLLISION"
	TextCodeIdentityNotFound      = "IDENTITY_NOT_FOUND"
	TextCodeEmailTaken            = "EMAIL_TAKEN"
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeUserLocked            = "USER_LOCKED"
	TextCodeUserInactive          = "USER_INACTIVE"
	TextCodeUserPending           = "USER_PENDING"
	TextCodeTooManyLoginAttempts  = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
)

// ErrTokenNotFound no token exists for the (value, purpose) pair
var ErrTokenNotFound = goerrors.New("token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenExpired the token expiry instant has passed
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenConsumed the ephemeral token was already used
var ErrTokenConsumed = goerrors.New("token already consumed", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenConsumed).
	WithCode(goerrors.CodeConflict)

// ErrTokenMalformed the bearer token cannot be parsed
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignatureInvalid the bearer token was not signed with the current key
var ErrSignatureInvalid = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSignatureInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is the single rejection callers see for verification and
// reset tokens, whatever the underlying cause.
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenCollision a generated token value already exists
var ErrTokenCollision = goerrors.New("token value collision", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenCollision).
	WithCode(goerrors.CodeConflict)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrMismatchedHashAndPassword is the uniform login failure
var ErrMismatchedHashAndPassword = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrUserLocked = goerrors.New("user account is locked", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUserLocked).
	WithCode(goerrors.CodeForbidden)

var ErrUserInactive = goerrors.New("user account is inactive", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUserInactive).
	WithCode(goerrors.CodeForbidden)

var ErrUserPending = goerrors.New("user email is not verified", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUserPending).
	WithCode(goerrors.CodeForbidden)

var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyLoginAttempts).
	WithCode(goerrors.CodeForbidden)

var ErrNoEmptyString = goerrors.New("password can't be an empty string", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// IsTokenNotFound reports whether err carries TOKEN_NOT_FOUND
func IsTokenNotFound(err error) bool { return HasTextCode(err, TextCodeTokenNotFound) }

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool { return HasTextCode(err, TextCodeTokenExpired) }

func IsTokenConsumed(err error) bool { return HasTextCode(err, TextCodeTokenConsumed) }

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool { return HasTextCode(err, TextCodeTokenMalformed) }

func IsSignatureInvalid(err error) bool { return HasTextCode(err, TextCodeTokenSignatureInvalid) }

func IsInvalidToken(err error) bool { return HasTextCode(err, TextCodeTokenInvalid) }

func IsIdentityNotFound(err error) bool { return HasTextCode(err, TextCodeIdentityNotFound) }

// HasTextCode walks the error chain looking for a rich error with the
// given text code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = errors.Unwrap(richErr)
	}
	return false
}

func withMeta(err *goerrors.Error, meta map[string]any) *goerrors.Error {
	return err.Clone().WithMetadata(meta)
}
