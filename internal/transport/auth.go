package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mgrover/collabd/internal/hub"
)

// ErrUnauthorized indicates invalid or missing credentials.
var ErrUnauthorized = errors.New("unauthorized")

type serviceKey struct{}

// ServiceResolver resolves a backend service name from a bearer token.
type ServiceResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// ServiceFromContext returns the calling service's name, if present.
func ServiceFromContext(ctx context.Context) (string, bool) {
	service, ok := ctx.Value(serviceKey{}).(string)
	return service, ok
}

// ServiceAuthMiddleware enforces bearer-token authentication on the
// server-to-server API.
func ServiceAuthMiddleware(resolver ServiceResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			service, err := resolver.Resolve(r.Context(), token)
			if err != nil || service == "" {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), serviceKey{}, service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientClaims is the identity the upstream application mints for dashboard
// users. This service only verifies; it never issues tokens.
type ClientClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// ClientAuthenticator verifies upstream-issued user tokens presented on the
// WebSocket handshake.
type ClientAuthenticator struct {
	secret []byte
}

// NewClientAuthenticator creates an authenticator with the shared HMAC
// secret.
func NewClientAuthenticator(secret string) *ClientAuthenticator {
	return &ClientAuthenticator{secret: []byte(secret)}
}

// Verify validates the token and returns the user identity it carries.
func (a *ClientAuthenticator) Verify(tokenString string) (hub.UserRef, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ClientClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return a.secret, nil
	})
	if err != nil {
		return hub.UserRef{}, ErrUnauthorized
	}

	claims, ok := token.Claims.(*ClientClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return hub.UserRef{}, ErrUnauthorized
	}

	return hub.UserRef{ID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
}

// clientToken extracts the user token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func clientToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
