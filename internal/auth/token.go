package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 5 * 24 * time.Hour
	defaultIssuer   = "user-portal"
	defaultAudience = "user management"

	authoritiesClaim = "authorities"
)

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
)

// Codec issues and validates signed identity tokens. It holds no mutable
// state beyond the signing secret, which is read-only after construction.
type Codec struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

func NewCodec(secret string, ttl time.Duration, issuer, audience string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	if audience == "" {
		audience = defaultAudience
	}

	return &Codec{
		secret:   []byte(secret),
		ttl:      ttl,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}, nil
}

// TTL reports the fixed validity window applied to issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token carrying the subject and its authority set at issuance
// time. Authorization decisions made against this token use that snapshot
// until it expires.
func (c *Codec) Issue(subject string, authorities []string) (string, error) {
	now := c.now().UTC()
	claims := jwt.MapClaims{
		"iss":            c.issuer,
		"aud":            c.audience,
		"sub":            subject,
		"iat":            now.Unix(),
		"exp":            now.Add(c.ttl).Unix(),
		authoritiesClaim: authorities,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	encoded, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return encoded, nil
}

// Validate checks structure, signature and expiry of a raw token and returns
// the embedded identity. Callers must not re-derive authorities from any
// other source for this token's lifetime.
func (c *Codec) Validate(raw string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Identity{}, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrTokenExpired
		default:
			return Identity{}, ErrInvalidSignature
		}
	}
	if !token.Valid {
		return Identity{}, ErrInvalidSignature
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, ErrMalformedToken
	}

	return Identity{
		Subject:     subject,
		Authorities: authoritiesFromClaims(claims),
	}, nil
}

func authoritiesFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims[authoritiesClaim].([]any)
	if !ok {
		return nil
	}

	authorities := make([]string, 0, len(raw))
	for _, value := range raw {
		if authority, ok := value.(string); ok {
			authorities = append(authorities, authority)
		}
	}
	return authorities
}
