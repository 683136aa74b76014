package auth

import (
	"context"
	"strings"
)

// GateReason explains how the gate reached its outcome
type GateReason string

const (
	GateBypassed             GateReason = "bypassed"
	GateAlreadyAuthenticated GateReason = "already_authenticated"
	GateNoCredential         GateReason = "no_credential"
	GateInvalidToken         GateReason = "invalid_token"
	GateUnknownSubject       GateReason = "unknown_subject"
	GateRejected             GateReason = "rejected"
	GateAuthenticated        GateReason = "authenticated"
)

// DefaultAuthScheme is the credential scheme expected in the auth header
const DefaultAuthScheme = "Bearer"

// DefaultPublicPaths are the exact routes that skip authentication
func DefaultPublicPaths() []string {
	return []string{
		"/api/auth/register",
		"/api/auth/verify-email",
		"/api/auth/forgot-password",
		"/api/auth/reset-password",
		"/health",
		"/metrics",
	}
}

// DefaultPublicPrefixes are the route prefixes that skip authentication
func DefaultPublicPrefixes() []string {
	return []string{
		"/oauth2/",
		"/login/oauth2/",
	}
}

// RequestDescriptor is what the gate needs to know about a request
type RequestDescriptor struct {
	Path       string
	Credential string
}

// Outcome is the gate's decision. Both outcomes continue the request.
type Outcome struct {
	Principal Principal
	Reason    GateReason
}

// Authenticated reports whether an identity is established
func (o Outcome) Authenticated() bool {
	return o.Principal != nil
}

// BearerDecoder is the part of the bearer codec the gate relies on
type BearerDecoder interface {
	DecodeSubject(token string) (string, error)
	Validate(token string, p Principal) bool
}

// Gate authenticates requests from their bearer credential. It is fail-soft:
// every failure yields an unauthenticated outcome, never an error.
type Gate struct {
	decoder  BearerDecoder
	resolver SubjectResolver
	exact    map[string]struct{}
	prefixes []string
	scheme   string
	logger   Logger
	metrics  *Metrics
}

type GateOption func(*Gate)

// WithPublicPaths replaces the exact allow-list
func WithPublicPaths(paths ...string) GateOption {
	return func(g *Gate) {
		g.exact = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			g.exact[p] = struct{}{}
		}
	}
}

// WithPublicPrefixes replaces the prefix allow-list
func WithPublicPrefixes(prefixes ...string) GateOption {
	return func(g *Gate) {
		g.prefixes = append([]string(nil), prefixes...)
	}
}

func WithAuthScheme(scheme string) GateOption {
	return func(g *Gate) {
		if scheme != "" {
			g.scheme = scheme
		}
	}
}

func WithGateLogger(logger Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithGateMetrics(metrics *Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// GateOptionsFromConfig maps the allow-list and scheme settings of cfg.
// Empty lists keep the defaults.
func GateOptionsFromConfig(cfg Config) []GateOption {
	var opts []GateOption
	if paths := cfg.GetPublicPaths(); len(paths) > 0 {
		opts = append(opts, WithPublicPaths(paths...))
	}
	if prefixes := cfg.GetPublicPrefixes(); len(prefixes) > 0 {
		opts = append(opts, WithPublicPrefixes(prefixes...))
	}
	return append(opts, WithAuthScheme(cfg.GetAuthScheme()))
}

func NewGate(decoder BearerDecoder, resolver SubjectResolver, opts ...GateOption) *Gate {
	g := &Gate{
		decoder:  decoder,
		resolver: resolver,
		scheme:   DefaultAuthScheme,
		logger:   defLogger{},
	}
	WithPublicPaths(DefaultPublicPaths()...)(g)
	WithPublicPrefixes(DefaultPublicPrefixes()...)(g)

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// IsPublic reports whether path is on the allow-list
func (g *Gate) IsPublic(path string) bool {
	if _, ok := g.exact[path]; ok {
		return true
	}
	for _, prefix := range g.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Evaluate runs the gate for one request. existing is the identity already
// established on the request, if any; it is never replaced.
func (g *Gate) Evaluate(ctx context.Context, req RequestDescriptor, existing Principal) Outcome {
	out := g.evaluate(ctx, req, existing)
	g.metrics.gateOutcome(out.Reason)
	return out
}

func (g *Gate) evaluate(ctx context.Context, req RequestDescriptor, existing Principal) Outcome {
	if g.IsPublic(req.Path) {
		return Outcome{Reason: GateBypassed}
	}

	token, ok := ExtractCredential(req.Credential, g.scheme)
	if !ok {
		return Outcome{Reason: GateNoCredential}
	}

	subject, err := g.decoder.DecodeSubject(token)
	if err != nil {
		g.logger.Debug("gate: bearer decode failed path=%s: %v", req.Path, err)
		return Outcome{Reason: GateInvalidToken}
	}

	if existing != nil {
		return Outcome{Principal: existing, Reason: GateAlreadyAuthenticated}
	}

	principal, err := g.resolver.FindBySubjectClaim(ctx, subject)
	if err != nil || principal == nil {
		if err != nil && !HasTextCode(err, TextCodeIdentityNotFound) {
			g.logger.Warn("gate: subject lookup failed: %v", err)
		}
		return Outcome{Reason: GateUnknownSubject}
	}

	if !g.decoder.Validate(token, principal) {
		return Outcome{Reason: GateRejected}
	}

	return Outcome{Principal: principal, Reason: GateAuthenticated}
}

// ExtractCredential splits "<scheme> <token>". The scheme comparison is
// case-insensitive; an empty token is no credential.
func ExtractCredential(header, scheme string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	if header[len(scheme)] != ' ' {
		return "", false
	}
	token := strings.TrimSpace(header[len(scheme)+1:])
	if token == "" {
		return "", false
	}
	return token, true
}
