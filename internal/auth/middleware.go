package auth

import (
	"context"
	"net/http"
	"strings"

	"user-portal/internal/observability"
)

const (
	// DefaultTokenHeader carries the bearer token on requests and the
	// freshly issued token on login responses.
	DefaultTokenHeader = "Jwt-Token"

	tokenPrefix = "Bearer"

	// Client-visible message for every token validation failure. The
	// specific cause is logged server-side only.
	tokenCannotBeVerified = "Token cannot be verified"

	unauthenticatedMessage = "You need to log in"
	forbiddenMessage       = "You do not have permission"
)

// DefaultPublicRoutes are the path patterns exempt from authentication.
// A trailing /** matches any suffix.
var DefaultPublicRoutes = []string{
	"/health",
	"/user/login",
	"/user/register",
	"/user/resetPassword/**",
	"/user/image/**",
}

type contextKey struct{}

var identityKey contextKey

// IdentityFrom returns the security context established by the authorizer,
// if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Authorizer validates bearer tokens on inbound requests and populates the
// request's security context. It holds no mutable state.
type Authorizer struct {
	codec        *Codec
	header       string
	publicRoutes []string
	logger       *observability.Logger
}

func NewAuthorizer(codec *Codec, header string, publicRoutes []string, logger *observability.Logger) *Authorizer {
	if header == "" {
		header = DefaultTokenHeader
	}
	if publicRoutes == nil {
		publicRoutes = DefaultPublicRoutes
	}

	return &Authorizer{
		codec:        codec,
		header:       header,
		publicRoutes: publicRoutes,
		logger:       logger,
	}
}

// Middleware runs once per inbound request before any protected handler.
// Pre-flight and public routes pass through unauthenticated. A missing token
// is not fatal here; the authorization decision on the route rejects it.
// A present-but-invalid token is rejected immediately with a generic message.
func (a *Authorizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(a.publicRoutes, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimSpace(r.Header.Get(a.header))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := a.codec.Validate(stripTokenPrefix(raw))
		if err != nil {
			a.logger.Warn("token_rejected", map[string]any{
				"path":   r.URL.Path,
				"reason": err.Error(),
			})
			writeError(w, http.StatusUnauthorized, tokenCannotBeVerified)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// RequireAuthority admits the request only when the security context holds
// the given authority. Missing identity answers 401, missing authority 403.
func RequireAuthority(authority string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, unauthenticatedMessage)
			return
		}
		if !identity.HasAuthority(authority) {
			writeError(w, http.StatusForbidden, forbiddenMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func stripTokenPrefix(raw string) string {
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], tokenPrefix) {
		return strings.TrimSpace(parts[1])
	}
	return raw
}

func isPublicPath(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if base, ok := strings.CutSuffix(pattern, "/**"); ok {
			if path == base || strings.HasPrefix(path, base+"/") {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}
