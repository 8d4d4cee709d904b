package middlewares

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/streamgate/streamgate/internal/http/helpers"
)

// TokenVerifier validates API bearer tokens (HS256) and exposes the
// subject claim.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

func (v *TokenVerifier) subject(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, bool) {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(ah[len("Bearer "):]), true
}

// RequireAuth validates Authorization: Bearer <JWT> and stores the
// subject in the context. Missing or invalid tokens get a 401.
func RequireAuth(v *TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="missing bearer token"`)
				helpers.WriteError(w, helpers.ErrUnauthorized.WithDetail("missing bearer token"))
				return
			}

			sub, err := v.subject(raw)
			if err != nil || sub == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				helpers.WriteError(w, helpers.ErrUnauthorized.WithDetail("invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

// OptionalAuth validates the bearer token when present but lets
// anonymous traffic through. Endpoints with per-user budgets use this
// so authenticated users get their own rate-limit subject.
func OptionalAuth(v *TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if sub, err := v.subject(raw); err == nil && sub != "" {
				r = r.WithContext(WithUserID(r.Context(), sub))
			}
			next.ServeHTTP(w, r)
		})
	}
}
