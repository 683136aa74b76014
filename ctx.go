package auth

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// WithPrincipal stores the authenticated principal in ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext returns the principal established by the gate
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok && p != nil
}

// UserFromContext is PrincipalFromContext narrowed to *User
func UserFromContext(ctx context.Context) (*User, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	user, ok := p.(*User)
	return user, ok && user != nil
}

// ActorFromContext describes who is acting for audit events. Requests
// without a user are reported as anonymous.
func ActorFromContext(ctx context.Context) ActorRef {
	user, ok := UserFromContext(ctx)
	if !ok {
		return ActorRef{Type: "anonymous"}
	}

	actorType := "user"
	if HasRole(user, RoleAdmin) {
		actorType = string(RoleAdmin)
	}
	return ActorRef{ID: user.ID.String(), Type: actorType}
}
