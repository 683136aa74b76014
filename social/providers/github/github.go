package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ovigia/authd/social"
)

const (
	defaultAuthURL   = "https://github.com/login/oauth/authorize"
	defaultTokenURL  = "https://github.com/login/oauth/access_token"
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth app settings. The endpoint URLs default to
// github.com and exist for tests and GitHub Enterprise.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

func DefaultScopes() []string {
	return []string{"read:user", "user:email"}
}

// Provider implements social.Provider for GitHub
type Provider struct {
	config Config
	client *http.Client
}

var _ social.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{config: cfg, client: client}
}

func (p *Provider) Name() string {
	return "github"
}

func (p *Provider) AuthCodeURL(state, challenge string) string {
	params := url.Values{
		"client_id":    {p.config.ClientID},
		"redirect_uri": {p.config.CallbackURL},
		"scope":        {strings.Join(p.config.Scopes, " ")},
		"state":        {state},
	}
	if challenge != "" {
		params.Set("code_challenge", challenge)
		params.Set("code_challenge_method", "S256")
	}
	return p.config.AuthURL + "?" + params.Encode()
}

func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*social.Token, error) {
	form := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.CallbackURL},
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, body, err := p.do(req)
	if err != nil {
		return nil, err
	}

	var res tokenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, providerError("exchange", status, "invalid_response", "failed to decode token response", err)
	}

	// GitHub reports exchange errors with a 200
	if status != http.StatusOK || res.Error != "" {
		return nil, providerError("exchange", status, res.Error, res.ErrorDesc, nil)
	}
	if res.AccessToken == "" {
		return nil, providerError("exchange", status, "missing_access_token", "missing access token", nil)
	}

	return &social.Token{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Scopes:      splitScopes(res.Scope),
	}, nil
}

// UserInfo combines /user with the primary address from /user/emails,
// since /user only shows a public email and never says if it is verified.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	var u user
	if err := p.getJSON(ctx, p.config.UserURL, token.AccessToken, "user_info", &u); err != nil {
		return nil, err
	}

	var emails []email
	if err := p.getJSON(ctx, p.config.EmailsURL, token.AccessToken, "emails", &emails); err != nil {
		return nil, err
	}

	primary, ok := pickEmail(emails)
	if !ok {
		return nil, providerError("emails", http.StatusOK, "email_not_found", "no usable email on the account", nil)
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}

	return &social.Profile{
		Provider:      p.Name(),
		ID:            strconv.FormatInt(u.ID, 10),
		Email:         primary.Email,
		EmailVerified: primary.Verified,
		Name:          name,
		Username:      u.Login,
		AvatarURL:     u.AvatarURL,
	}, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint, accessToken, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	status, body, err := p.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return providerError(op, status, "", apiErrorMessage(body), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providerError(op, status, "invalid_response", "failed to decode response", err)
	}
	return nil
}

func (p *Provider) do(req *http.Request) (int, []byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// pickEmail prefers the verified primary address, then any verified one
func pickEmail(emails []email) (email, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e, true
		}
	}
	for _, e := range emails {
		if e.Primary {
			return e, true
		}
	}
	return email{}, false
}

func splitScopes(scopes string) []string {
	var out []string
	for _, part := range strings.Split(scopes, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func apiErrorMessage(body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "github request failed"
}

func providerError(op string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    "github",
		Operation:   op,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}
