package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireAuthenticated rejects requests that reached it without a principal.
// Mount it behind [Gate].
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			WriteError(w, http.StatusUnauthorized, authcore.ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthority rejects requests whose principal lacks label with 403.
func RequireAuthority(label string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if !p.HasAuthority(label) {
				writeJSON(w, http.StatusForbidden, errorBody{
					Error:   "forbidden",
					Message: "Insufficient authority.",
				})
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
