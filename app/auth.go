package beacon

import (
	"context"
	"net/http"
	"strings"

	"github.com/putto11262002/beacon/core"
	"github.com/putto11262002/beacon/pkg/router"
)

const AuthCookieName = "beacon_token"

type identityCtxKey struct{}

// IdentityFromRequest returns the identity set by JWTMiddleware. It is
// the zero Identity on unauthenticated requests.
func IdentityFromRequest(r *http.Request) core.Identity {
	identity, _ := r.Context().Value(identityCtxKey{}).(core.Identity)
	return identity
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie(AuthCookieName); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// JWTMiddleware resolves the request credential to an identity and
// stores it on the request context. Unresolvable credentials are
// rejected with 401.
func JWTMiddleware(verifier core.CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.Verify(r.Context(), requestToken(r))
			if err != nil {
				status := http.StatusInternalServerError
				if core.Denial(err) {
					status = http.StatusUnauthorized
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				router.NewJsonError(status, "authentication failed").Encode(w)
				return
			}
			ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
