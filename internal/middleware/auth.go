// Package middleware provides HTTP middleware for the switchyard server:
// bearer-token authentication and per-IP throttling of failed attempts.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingAuthorizationHeader = errors.New("missing authorization header")
	errInvalidAuthorizationHeader = errors.New("invalid authorization header")
)

// TokenValidator validates a bearer token and returns the project it grants
// access to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
}

// WithOnAuthFailure registers a callback invoked on every authentication
// failure (e.g. to increment a Prometheus counter).
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter attaches a per-IP rate limiter that throttles repeated
// authentication failures.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

// BearerAuth enforces bearer-token auth for HTTP handlers. On success the
// request context carries the authenticated project and API key ID.
func BearerAuth(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := authConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			project, err := authorize(r.Context(), r.Header.Get("Authorization"), validator)
			if err != nil {
				if cfg.onFailure != nil {
					cfg.onFailure()
				}
				if cfg.rateLimiter != nil {
					ip := ExtractIP(r.RemoteAddr)
					if !cfg.rateLimiter.RecordFailureAndAllow(ip) {
						http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
						return
					}
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), projectKey, project)
			if keyID := apiKeyIDFromBearer(r.Header.Get("Authorization")); keyID != "" {
				ctx = context.WithValue(ctx, apiKeyIDKey, keyID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey string

const (
	projectKey  contextKey = "project"
	apiKeyIDKey contextKey = "api_key_id"
)

// ProjectFromContext retrieves the authenticated project from the context.
func ProjectFromContext(ctx context.Context) (string, bool) {
	project, ok := ctx.Value(projectKey).(string)
	return project, ok
}

// APIKeyIDFromContext retrieves the API key ID from the context.
func APIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(apiKeyIDKey).(string)
	return id, ok
}

func authorize(ctx context.Context, authorizationHeader string, validator TokenValidator) (string, error) {
	if validator == nil {
		return "", errors.New("token validator is nil")
	}
	if strings.TrimSpace(authorizationHeader) == "" {
		return "", errMissingAuthorizationHeader
	}

	token, err := parseBearerToken(authorizationHeader)
	if err != nil {
		return "", err
	}
	project, err := validator.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(project) == "" {
		return "", errInvalidAuthorizationHeader
	}
	return project, nil
}

func parseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 {
		return "", errInvalidAuthorizationHeader
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorizationHeader
	}
	if parts[1] == "" {
		return "", errInvalidAuthorizationHeader
	}

	return parts[1], nil
}

// apiKeyIDFromBearer extracts the API key ID (the part before the dot) from
// a bearer token in format "Bearer keyID.secret".
func apiKeyIDFromBearer(authHeader string) string {
	token, err := parseBearerToken(authHeader)
	if err != nil {
		return ""
	}
	keyID, _, ok := strings.Cut(token, ".")
	if !ok || keyID == "" {
		return ""
	}
	return keyID
}
