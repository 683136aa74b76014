package gateware

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/ovigia/authd"
)

// ErrorHandler renders guard rejections
type ErrorHandler func(ctx router.Context, err *goerrors.Error) error

func defaultErrorHandler(ctx router.Context, err *goerrors.Error) error {
	return auth.SendError(ctx, err.Code, err.Message)
}

func pickHandler(handlers []ErrorHandler) ErrorHandler {
	if len(handlers) > 0 && handlers[0] != nil {
		return handlers[0]
	}
	return defaultErrorHandler
}

// RequireIdentity answers 401 unless the gate established an identity
func RequireIdentity(handler ...ErrorHandler) router.MiddlewareFunc {
	onError := pickHandler(handler)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if _, ok := auth.PrincipalFromContext(ctx.Context()); !ok {
				return onError(ctx, ErrAuthenticationRequired)
			}
			return next(ctx)
		}
	}
}

// RequireRole answers 401 without an identity and 403 when the identity
// holds neither role nor one above it
func RequireRole(role auth.UserRole, handler ...ErrorHandler) router.MiddlewareFunc {
	onError := pickHandler(handler)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			p, ok := auth.PrincipalFromContext(ctx.Context())
			if !ok {
				return onError(ctx, ErrAuthenticationRequired)
			}

			if !auth.HasRole(p, role) {
				return onError(ctx, ErrForbidden.Clone().WithMetadata(map[string]any{
					"required": role,
				}))
			}

			return next(ctx)
		}
	}
}
