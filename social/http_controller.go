package social

import (
	"net/http"
	"net/url"

	"github.com/goliatone/go-router"
	"github.com/ovigia/authd"
)

// RouteRegistrar is the part of router.Router the controller mounts on
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Routes are the OAuth paths. Both sit under prefixes the gate lets
// through unauthenticated.
type Routes struct {
	Providers string
	Authorize string
	Callback  string
}

func DefaultRoutes() Routes {
	return Routes{
		Providers: "/oauth2/providers",
		Authorize: "/oauth2/authorization/:provider",
		Callback:  "/login/oauth2/code/:provider",
	}
}

// Controller runs the authorization code flow and hands the resulting
// profile to the external login flow.
type Controller struct {
	Registry *Registry
	States   *StateCodec
	Flows    *auth.Flows
	Auther   *auth.Authenticator
	Logger   auth.Logger
	Routes   Routes

	// SuccessRedirect, when set, receives the bearer token in the URL
	// fragment instead of a JSON body
	SuccessRedirect string
}

type ControllerOption func(*Controller)

func WithLogger(logger auth.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func WithRoutes(routes Routes) ControllerOption {
	return func(c *Controller) {
		c.Routes = routes
	}
}

func WithSuccessRedirect(target string) ControllerOption {
	return func(c *Controller) {
		c.SuccessRedirect = target
	}
}

func NewController(registry *Registry, states *StateCodec, flows *auth.Flows, auther *auth.Authenticator, opts ...ControllerOption) *Controller {
	if registry == nil || states == nil || flows == nil || auther == nil {
		panic("social controller requires a registry, state codec, flows and authenticator")
	}

	c := &Controller{
		Registry: registry,
		States:   states,
		Flows:    flows,
		Auther:   auther,
		Logger:   auth.NopLogger(),
		Routes:   DefaultRoutes(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Register mounts the OAuth routes on r
func (c *Controller) Register(r RouteRegistrar) {
	r.Get(c.Routes.Providers, c.ListProviders)
	r.Get(c.Routes.Authorize, c.Authorize)
	r.Get(c.Routes.Callback, c.Callback)
}

func (c *Controller) ListProviders(ctx router.Context) error {
	return auth.SendData(ctx, http.StatusOK, map[string]any{"providers": c.Registry.Names()})
}

// Authorize redirects the browser to the provider consent screen
func (c *Controller) Authorize(ctx router.Context) error {
	provider, err := c.Registry.Get(ctx.Param("provider"))
	if err != nil {
		return err
	}

	verifier, challenge, err := NewCodeVerifier()
	if err != nil {
		return err
	}

	state, err := c.States.Encode(&State{
		Provider:     provider.Name(),
		CodeVerifier: verifier,
	})
	if err != nil {
		return err
	}

	return ctx.Redirect(provider.AuthCodeURL(state, challenge), http.StatusFound)
}

// Callback completes the flow and issues a bearer token
func (c *Controller) Callback(ctx router.Context) error {
	name := ctx.Param("provider")

	if reason := ctx.Query("error", ""); reason != "" {
		return ErrProviderDenied.Clone().WithMetadata(map[string]any{
			"provider":    name,
			"error":       reason,
			"description": ctx.Query("error_description", ""),
		})
	}

	state, err := c.States.Decode(ctx.Query("state", ""))
	if err != nil {
		return err
	}
	if state.Provider != name {
		c.Logger.Warn("oauth state issued for %s used on %s callback", state.Provider, name)
		return ErrInvalidState
	}

	code := ctx.Query("code", "")
	if code == "" {
		return ErrInvalidState
	}

	profile, err := c.Registry.Resolve(ctx.Context(), name, code, state.CodeVerifier)
	if err != nil {
		c.Logger.Error("oauth %s profile resolution failed: %v", name, err)
		return err
	}

	var user *auth.User
	err = c.Flows.ExternalLogin.Execute(ctx.Context(), auth.ExternalLoginMessage{
		Profile:    *profile,
		OnResponse: func(u *auth.User) { user = u },
	})
	if err != nil {
		return err
	}

	result, err := c.Auther.Issue(user)
	if err != nil {
		return err
	}

	if c.SuccessRedirect != "" {
		fragment := url.Values{
			"token":      {result.Token},
			"token_type": {result.TokenType},
		}
		return ctx.Redirect(c.SuccessRedirect+"#"+fragment.Encode(), http.StatusFound)
	}

	return auth.SendData(ctx, http.StatusOK, result)
}
