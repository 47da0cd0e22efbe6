package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("identity: invalid token")

// Token types carried in the token_type claim.
const (
	TokenTypeAccess = "access"
	TokenTypeClient = "client_credentials"
)

const (
	defaultAccessTTL = 30 * time.Minute
	defaultClientTTL = 15 * time.Minute
)

// Claims are the JWT claims minted and verified by the token service.
type Claims struct {
	TokenType      string   `json:"token_type"`
	Role           string   `json:"role,omitempty"`
	OrganizationID string   `json:"org,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the platform's JWTs using HS256.
type TokenService struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	clientTTL time.Duration
	now       func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenService) { t.issuer = strings.TrimSpace(issuer) }
}

// WithAccessTTL configures user access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(t *TokenService) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithClientTokenTTL configures client-credentials token lifetime.
func WithClientTokenTTL(ttl time.Duration) TokenOption {
	return func(t *TokenService) {
		if ttl > 0 {
			t.clientTTL = ttl
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenService) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenService constructs a TokenService. The signing secret is required.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: signing secret is required")
	}
	t := &TokenService{
		secret:    []byte(secret),
		issuer:    "gatekeep",
		accessTTL: defaultAccessTTL,
		clientTTL: defaultClientTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AccessTTL returns the configured user access token lifetime.
func (t *TokenService) AccessTTL() time.Duration { return t.accessTTL }

// ClientTokenTTL returns the configured client token lifetime.
func (t *TokenService) ClientTokenTTL() time.Duration { return t.clientTTL }

// SignUserToken mints an access token for a user principal.
func (t *TokenService) SignUserToken(u User) (string, time.Time, error) {
	if strings.TrimSpace(u.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims := Claims{
		TokenType:      TokenTypeAccess,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// SignClientToken mints a client-credentials token for an app client with
// the given scope set.
func (t *TokenService) SignClientToken(appClientID string, scopes []string) (string, time.Time, error) {
	if strings.TrimSpace(appClientID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: app client id is required", ErrInvalidInput)
	}
	now := t.now().UTC()
	exp := now.Add(t.clientTTL)
	claims := Claims{
		TokenType: TokenTypeClient,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   appClientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and required claims.
func (t *TokenService) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	switch claims.TokenType {
	case TokenTypeAccess, TokenTypeClient:
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
