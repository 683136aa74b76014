// Package gateware adapts auth.Gate to go-router. The gate never rejects a
// request on its own; use RequireIdentity and RequireRole on the routes
// that need an identity.
package gateware

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/ovigia/authd"
)

// ReasonKey is the locals key holding the gate's auth.GateReason
const ReasonKey = "auth_gate_reason"

// ErrAuthenticationRequired the route needs an authenticated identity
var ErrAuthenticationRequired = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode("AUTHENTICATION_REQUIRED").
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden the identity lacks the required role
var ErrForbidden = goerrors.New("insufficient role", goerrors.CategoryAuthz).
	WithTextCode("FORBIDDEN").
	WithCode(goerrors.CodeForbidden)

// Evaluator is implemented by *auth.Gate
type Evaluator interface {
	Evaluate(ctx context.Context, req auth.RequestDescriptor, existing auth.Principal) auth.Outcome
}

// Listener is called once an identity has been established
type Listener func(ctx router.Context, p auth.Principal)

type Config struct {
	Filter     func(router.Context) bool
	Gate       Evaluator
	ContextKey string
	Header     string
	Listeners  []Listener
}

// ConfigFrom builds a Config from the auth configuration
func ConfigFrom(gate Evaluator, cfg auth.Config) Config {
	return Config{
		Gate:       gate,
		ContextKey: cfg.GetContextKey(),
		Header:     cfg.GetAuthHeader(),
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Gate == nil {
		panic("AUTH: gate middleware configuration: Gate is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.Header == "" {
		cfg.Header = router.HeaderAuthorization
	}

	return cfg
}

// New runs the gate on every request and stores the identity, when one is
// established, in locals under ContextKey and in the request context.
// The request always continues.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			existing, _ := ctx.Locals(cfg.ContextKey).(auth.Principal)

			out := cfg.Gate.Evaluate(ctx.Context(), auth.RequestDescriptor{
				Path:       ctx.Path(),
				Credential: ctx.Header(cfg.Header),
			}, existing)

			ctx.Locals(ReasonKey, out.Reason)

			if out.Authenticated() {
				ctx.Locals(cfg.ContextKey, out.Principal)
				ctx.SetContext(auth.WithPrincipal(ctx.Context(), out.Principal))
				for _, listener := range cfg.Listeners {
					if listener != nil {
						listener(ctx, out.Principal)
					}
				}
			}

			return next(ctx)
		}
	}
}

// Reason returns the gate outcome recorded for the request
func Reason(ctx router.Context) auth.GateReason {
	reason, _ := ctx.Locals(ReasonKey).(auth.GateReason)
	return reason
}
