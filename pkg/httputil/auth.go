package httputil

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fiscalaudit/fiscalaudit-backend/pkg/config"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/errors"
)

// Claims represents the JWT claims issued to API clients (the dashboard and
// export tooling authenticate with a service token).
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// Auth verifies a HMAC-signed bearer token and puts its subject on the
// request context. Health endpoints are mounted outside this middleware.
func Auth(cfg *config.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				Error(w, errors.Unauthorized("missing bearer token"))
				return
			}

			tokenString := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.ErrTokenInvalid
				}
				return []byte(cfg.Secret), nil
			}, jwt.WithIssuer(cfg.Issuer))

			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					Error(w, errors.TokenExpired())
					return
				}
				Error(w, errors.TokenInvalid())
				return
			}

			if !token.Valid {
				Error(w, errors.TokenInvalid())
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
