package social

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ovigia/authd"
)

// Provider is an OAuth2 authorization code provider
type Provider interface {
	// Name is the identifier used in routes, e.g. "github"
	Name() string

	// AuthCodeURL is where the browser is sent to authorize. challenge is
	// the S256 PKCE code challenge; empty disables PKCE.
	AuthCodeURL(state, challenge string) string

	// Exchange trades an authorization code for an access token
	Exchange(ctx context.Context, code, verifier string) (*Token, error)

	// UserInfo fetches the account holder profile
	UserInfo(ctx context.Context, token *Token) (*Profile, error)
}

// Token is an OAuth2 token response
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Scopes      []string
}

// Profile is the normalized account holder information
type Profile struct {
	Provider      string
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	Username      string
	AvatarURL     string
}

// External converts the profile to what the account flows consume
func (p *Profile) External() auth.ExternalProfile {
	return auth.ExternalProfile{
		Provider:      p.Provider,
		ExternalID:    p.ID,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Name:          p.Name,
		AvatarURL:     p.AvatarURL,
	}
}

// Registry holds the configured providers and resolves authorization
// codes into profiles.
type Registry struct {
	providers map[string]Provider
}

var _ auth.ExternalProfileResolver = (*Registry)(nil)

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[strings.ToLower(p.Name())] = p
		}
	}
	return r
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, ErrProviderNotFound.Clone().WithMetadata(map[string]any{"provider": name})
	}
	return p, nil
}

// Names lists the registered providers in alphabetical order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(r.providers)
}

// Resolve exchanges code with the named provider and returns the profile
func (r *Registry) Resolve(ctx context.Context, provider, code, verifier string) (*auth.ExternalProfile, error) {
	p, err := r.Get(provider)
	if err != nil {
		return nil, err
	}

	token, err := p.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, wrapProviderError(ErrTokenExchangeFailed, p.Name(), "exchange", err)
	}

	profile, err := p.UserInfo(ctx, token)
	if err != nil {
		return nil, wrapProviderError(ErrUserInfoFailed, p.Name(), "user_info", err)
	}

	if profile.Provider == "" {
		profile.Provider = p.Name()
	}

	external := profile.External()
	return &external, nil
}
