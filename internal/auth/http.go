// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the bearer token, checks the role, and adds the identity to context

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// QueryTokenParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const QueryTokenParam = "token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken finds the token in the Authorization header, or in the query
// string when allowQuery is set and no header was sent.
func requestToken(r *http.Request, allowQuery bool) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" && allowQuery {
		if t := r.URL.Query().Get(QueryTokenParam); t != "" {
			return t, ""
		}
	}
	return extractBearerToken(header)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Guard builds bearer-token middleware.
type Guard struct {
	verifier   TokenVerifier
	allowQuery bool
}

// NewGuard creates a Guard. A nil verifier disables authentication: every
// request passes through anonymously.
func NewGuard(verifier TokenVerifier) *Guard {
	return &Guard{verifier: verifier}
}

// AllowQueryToken returns a copy of g that also accepts ?token=.
func (g *Guard) AllowQueryToken() *Guard {
	c := *g
	c.allowQuery = true
	return &c
}

// Enabled reports whether tokens are checked at all.
func (g *Guard) Enabled() bool {
	return g.verifier != nil
}

// Require returns middleware admitting only valid tokens holding one of roles.
// With no roles, any valid token is admitted.
func (g *Guard) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g.verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r, g.allowQuery)
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}

			id, err := g.verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if len(roles) > 0 && !id.Has(roles...) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
