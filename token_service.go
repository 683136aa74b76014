package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MinSigningKeyLength is the minimum HS256 secret size in bytes
const MinSigningKeyLength = 32

// TokenService issues and decodes bearer tokens. Tokens are stateless:
// validity is recomputed from the token content and the signing key, so
// rotating the key invalidates every token issued before.
type TokenService struct {
	signingKey []byte
	lifetime   time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
	metrics    *Metrics
}

// TokenServiceOption customizes the bearer codec
type TokenServiceOption func(*TokenService)

func WithTokenServiceClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

func WithTokenServiceIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.issuer = issuer
	}
}

func WithTokenServiceAudience(audience ...string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.audience = append(jwt.ClaimStrings(nil), audience...)
	}
}

func WithTokenServiceLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

func WithTokenServiceMetrics(metrics *Metrics) TokenServiceOption {
	return func(ts *TokenService) {
		ts.metrics = metrics
	}
}

// NewTokenService creates a bearer codec. lifetimeHours is the fixed
// validity of every issued token. The key is copied.
func NewTokenService(signingKey []byte, lifetimeHours int, opts ...TokenServiceOption) (*TokenService, error) {
	if len(signingKey) < MinSigningKeyLength {
		return nil, errors.New("signing key is too short", errors.CategoryBadInput).
			WithMetadata(map[string]any{"min_length": MinSigningKeyLength})
	}

	if lifetimeHours <= 0 {
		return nil, errors.New("token lifetime must be positive", errors.CategoryBadInput).
			WithMetadata(map[string]any{"lifetime_hours": lifetimeHours})
	}

	ts := &TokenService{
		signingKey: append([]byte(nil), signingKey...),
		lifetime:   time.Duration(lifetimeHours) * time.Hour,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// NewTokenServiceFromConfig builds the codec from Config
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) (*TokenService, error) {
	base := []TokenServiceOption{
		WithTokenServiceIssuer(cfg.GetIssuer()),
		WithTokenServiceAudience(cfg.GetAudience()...),
	}
	return NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetTokenExpiration(), append(base, opts...)...)
}

// Lifetime is the fixed validity window of issued tokens
func (ts *TokenService) Lifetime() time.Duration {
	return ts.lifetime
}

// Issue signs a token for subject
func (ts *TokenService) Issue(subject string) (string, error) {
	token, _, err := ts.issue(subject, "")
	return token, err
}

// IssueFor signs a token for the principal and returns its expiry
func (ts *TokenService) IssueFor(p Principal) (string, time.Time, error) {
	if p == nil {
		return "", time.Time{}, errors.New("principal is required", errors.CategoryBadInput)
	}

	var role string
	if roles := p.Roles(); len(roles) > 0 {
		role = roles[0]
	}
	return ts.issue(p.SubjectClaim(), role)
}

func (ts *TokenService) issue(subject, role string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required", errors.CategoryBadInput)
	}

	now := ts.now()
	expiresAt := now.Add(ts.lifetime)
	claims := &BearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subject,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserRole: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	ts.metrics.bearerIssued()
	return signed, expiresAt, nil
}

// Parse validates signature, algorithm, expiry, issuer and audience and
// returns the claims.
func (ts *TokenService) Parse(tokenString string) (*BearerClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	claims := &BearerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, ts.classify(err)
	}

	if !token.Valid || claims.Subject() == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (ts *TokenService) classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.Wrap(err, ErrSignatureInvalid.Category, ErrSignatureInvalid.Message).
			WithTextCode(ErrSignatureInvalid.TextCode).
			WithCode(ErrSignatureInvalid.Code)
	default:
		ts.logger.Debug("bearer token rejected: %v", err)
		return errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}
}

// DecodeSubject returns the subject of a valid token
func (ts *TokenService) DecodeSubject(tokenString string) (string, error) {
	claims, err := ts.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject(), nil
}

// Validate reports whether the token decodes, names the principal and the
// principal may still act. Never fails.
func (ts *TokenService) Validate(tokenString string, p Principal) bool {
	if p == nil {
		return false
	}
	subject, err := ts.DecodeSubject(tokenString)
	if err != nil {
		return false
	}
	return subject == p.SubjectClaim() && p.IsUsable()
}
