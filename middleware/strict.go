package middleware

import (
	"net/http"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
)

// RequireRole rejects requests whose identity, as resolved by Guard, holds a
// system role below min.
func RequireRole(min permission.SystemRole, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeOrDefault(fail, w, r, packguard.ErrUnauthorized)
				return
			}
			if !identity.Role.AtLeast(min) {
				writeOrDefault(fail, w, r, &packguard.ForbiddenError{Reason: "role_required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
