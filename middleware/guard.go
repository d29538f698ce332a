package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/jwt"
)

// Authenticator is the subset of *packguard.Engine the guards use.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*packguard.Identity, error)
	VerifyAccess(accessToken string) (*jwt.AccessClaims, error)
}

// ErrorWriter renders err as the response. Guards call it on rejection.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type identityContextKey struct{}
type claimsContextKey struct{}

// IdentityFromContext returns the identity stored by Guard.
func IdentityFromContext(ctx context.Context) (*packguard.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*packguard.Identity)
	return identity, ok && identity != nil
}

// ClaimsFromContext returns the claims stored by RequireClaims.
func ClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.AccessClaims)
	return claims, ok && claims != nil
}

func writeOrDefault(fail ErrorWriter, w http.ResponseWriter, r *http.Request, err error) {
	if fail != nil {
		fail(w, r, err)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Guard authenticates the bearer token and stores the resolved identity in
// the request context.
func Guard(engine Authenticator, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeOrDefault(fail, w, r, packguard.ErrUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeOrDefault(fail, w, r, packguard.ErrInvalidToken)
				return
			}

			identity, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				writeOrDefault(fail, w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
