package httpx

import (
	"net/http"
	"slices"
	"strings"

	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

// TokenQueryParam carries the access token on WebSocket upgrades, where
// browsers cannot set an Authorization header.
const TokenQueryParam = "token"

// AuthnMiddleware verifies the bearer token and attaches its claims to the
// request context.
func AuthnMiddleware(v jwtx.Verifier) Middleware {
	return authn(v, false)
}

// AuthnQueryMiddleware is AuthnMiddleware that also accepts ?token=.
func AuthnQueryMiddleware(v jwtx.Verifier) Middleware {
	return authn(v, true)
}

func authn(v jwtx.Verifier, allowQuery bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			raw := bearerToken(r)
			if raw == "" && allowQuery {
				raw = strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
			}
			if raw == "" {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				log.Warn("jwt verify failed", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithAuth(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// RequireAnyScope rejects callers holding none of required with 403.
func RequireAnyScope(required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have := scopesFromCtx(r.Context())
			for _, s := range required {
				if slices.Contains(have, s) {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("WWW-Authenticate",
				`Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
			WriteError(w, http.StatusForbidden, "insufficient_scope",
				"You do not have permission to perform this action.")
		})
	}
}

// RFC 6750 bearer challenge with the attendance error body.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", "Authentication required: "+desc+".")
}
