package middleware

import (
	"net/http"

	"custody/internal/apperr"
)

// RequirePermission lets bearer token callers through and checks the scope
// of API key callers.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, apperr.KindUnauthorized, "unauthorized")
				return
			}
			if principal.Method == MethodAPIKey {
				if principal.Key == nil || !principal.Key.HasPermission(permission) {
					writeError(w, http.StatusForbidden, apperr.KindPermissionDenied, "API key lacks the "+permission+" permission")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
