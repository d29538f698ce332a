package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/packguard"
)

// RequireClaims verifies the access token signature and expiry only. The
// claims reflect the role at issue time, so a role change is not visible
// until the token is re-issued.
func RequireClaims(engine Authenticator, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if engine == nil || !ok {
				writeOrDefault(fail, w, r, packguard.ErrInvalidToken)
				return
			}

			claims, err := engine.VerifyAccess(token)
			if err != nil {
				writeOrDefault(fail, w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
