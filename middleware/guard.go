package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// Authorizer is the part of *authcore.Engine the adapters need.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (*authcore.Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal the gate attached, if any.
func PrincipalFromContext(ctx context.Context) (*authcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authcore.Principal)
	return p, ok && p != nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *authcore.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Gate authorizes requests that carry a bearer token. A request without one
// is passed through unauthenticated so the handler chain decides whether the
// route is public. A rejected token ends the request with 401 and a JSON
// error body; the handler never runs with a partial principal.
func Gate(authz Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r.Header.Get("Authorization"))
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if authz == nil {
				WriteError(w, http.StatusServiceUnavailable, authcore.ErrEngineNotReady)
				return
			}

			principal, err := authz.Authorize(r.Context(), token)
			if err != nil {
				WriteError(w, statusFor(err), err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// BearerToken returns the bearer token of r, if the Authorization header
// uses that scheme.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

// bearerToken reports whether value uses the Bearer scheme. An empty token
// after the scheme is still reported as present so it is rejected, not
// skipped.
func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	return strings.TrimSpace(value[len(bearer):]), true
}

func statusFor(err error) int {
	if authcore.ErrorCode(err) == authcore.CodeTechnical {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}
