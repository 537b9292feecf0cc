package middleware

import (
	"errors"
	"net/http"
	"strings"

	"ailego/pkg/auth"
	pkgerrors "ailego/pkg/errors"

	"go.uber.org/zap"
)

// Verifier turns a bearer token into an identity
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Authenticate stores the caller's identity in the request context. With a
// nil verifier every request runs as the Anonymous identity, which is how
// local development hosts run.
func Authenticate(verifier Verifier, errs *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), auth.Anonymous)))
				return
			}

			id, err := verifier.Verify(extractToken(r))
			if err != nil {
				logger.Debug("Authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("clientIP", getClientIP(r)),
					zap.Error(err),
				)
				message := "Invalid token"
				switch {
				case errors.Is(err, auth.ErrMissingToken):
					message = "Missing authentication token"
				case errors.Is(err, auth.ErrExpiredToken):
					message = "Token has expired"
				}
				errs.Handle(w, r, pkgerrors.NewUnauthorizedError(message))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RateLimit throttles state-changing requests per actor. Anonymous actors
// are keyed by client IP. Reads pass through.
func RateLimit(limiter auth.RateLimiter, limit int, window string, errs *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := "ip:" + getClientIP(r)
			if id := auth.IdentityFromContext(r.Context()); !id.IsAnonymous() {
				key = "user:" + id.UID
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Rate limiter failed", zap.String("key", key), zap.Error(err))
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				errs.Handle(w, r, pkgerrors.NewRateLimitError(limit, window))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return authHeader
	}

	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
