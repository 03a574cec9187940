package middleware

import (
	"crypto/subtle"
	"net/http"

	"trackgate/internal/api/util"
)

type AuthMiddleware struct {
	token string
}

// NewAuthMiddleware guards endpoints with a static bearer token. An empty
// token lets every request through.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	if m.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := util.BearerToken(r)
		if !ok {
			util.WriteError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			util.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
