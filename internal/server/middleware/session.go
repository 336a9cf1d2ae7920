package middleware

import (
	"net/http"
	"strings"

	"github.com/3leaps/mapnimbus/pkg/identity"
)

// Session resolves the signed-in user from the session cookie or a bearer
// token and stores it with identity.WithUser. Invalid sessions are treated
// as signed out.
func Session(sessions *identity.Sessions, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(cookieName); err == nil {
					token = c.Value
				}
			}
			if token != "" {
				if u, err := sessions.Parse(token); err == nil {
					r = r.WithContext(identity.WithUser(r.Context(), u))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
