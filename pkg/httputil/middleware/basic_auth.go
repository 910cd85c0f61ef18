package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/mariukha/CoopManager/pkg/httputil"
	"go.uber.org/zap"
)

// BasicAuthConfig holds the username-password pairs for basic authentication.
type BasicAuthConfig struct {
	Credentials map[string]string
	Realm       string
}

// BasicAuthCreds creates a BasicAuthConfig with multiple username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{Credentials: credentials}
}

// VerifyBasicAuth guards the operational endpoints with HTTP basic auth and
// stores the user name in the request context.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	realm := config.Realm
	if realm == "" {
		realm = "coop"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				httputil.Error(w, http.StatusUnauthorized, "basic authorization required")
				return
			}

			expected, known := config.Credentials[username]
			// compare even for unknown users to keep timing uniform
			match := subtle.ConstantTimeCompare([]byte(expected), []byte(password)) == 1
			if !known || !match {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				httputil.Error(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			AddLogFields(r, zap.String("user", username))
			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
