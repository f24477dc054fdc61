package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"custody/internal/apperr"
	"custody/internal/auth"
	"custody/internal/models"

	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal"

const APIKeyHeader = "X-API-Key"

const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Principal is the authenticated caller. Key is set only for API key
// requests.
type Principal struct {
	UserID string
	Email  string
	Method string
	Key    *models.APIKey
}

type KeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (models.APIKey, error)
}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.UserID == "" {
		return "", false
	}
	return principal.UserID, true
}

// Auth accepts only bearer tokens. Key management sits behind it so an API
// key can never mint or roll other keys.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "missing authorization header")
				return
			}
			principal, ok := bearerPrincipal(w, secret, header)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// AuthOrAPIKey accepts a bearer token or, when no Authorization header is
// sent, an X-API-Key.
func AuthOrAPIKey(secret string, keys KeyAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); header != "" {
				principal, ok := bearerPrincipal(w, secret, header)
				if !ok {
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
				return
			}
			raw := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "missing credentials")
				return
			}
			key, err := keys.Authenticate(r.Context(), raw)
			if err != nil {
				var appErr *apperr.Error
				if errors.As(err, &appErr) {
					writeError(w, http.StatusUnauthorized, appErr.Kind, appErr.Message)
					return
				}
				log.Printf("api key authentication failed: %v", err)
				writeError(w, http.StatusInternalServerError, apperr.KindInternal, "unable to verify API key")
				return
			}
			principal := Principal{UserID: key.UserID, Method: MethodAPIKey, Key: &key}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerPrincipal(w http.ResponseWriter, secret, header string) (Principal, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "invalid authorization header")
		return Principal{}, false
	}
	claims, err := auth.ParseToken(secret, strings.TrimSpace(parts[1]))
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "invalid token")
		return Principal{}, false
	}
	// user ids are uuid columns; anything else would fail in the database.
	if _, err := uuid.Parse(claims.UserID); err != nil {
		writeError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "invalid token")
		return Principal{}, false
	}
	return Principal{UserID: claims.UserID, Email: claims.Email, Method: MethodJWT}, true
}

func writeError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": string(kind)})
}
