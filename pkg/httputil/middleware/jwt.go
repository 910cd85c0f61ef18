package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"go.uber.org/zap"
)

const (
	RoleAdmin    = "admin"
	RoleResident = "resident"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by login tokens. AptID is set for residents only.
type Claims struct {
	Role  string `json:"role"`
	AptID int64  `json:"apt_id,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 login tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject. It returns the token and its expiry.
func (t *Tokens) Issue(subject, role string, aptID int64) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Role:  role,
		AptID: aptID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "coop",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates the signature and expiry of a token.
func (t *Tokens) Parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate verifies a bearer token when one is sent and stores its
// claims in the request context. Requests without a token pass through;
// use RequireRole to enforce one.
func Authenticate(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if tokens == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				httputil.Error(w, http.StatusUnauthorized, "invalid Authorization header format")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				httputil.Logger(r).Debug("rejected token", zap.Error(err))
				httputil.Error(w, http.StatusUnauthorized, err.Error())
				return
			}

			AddLogFields(r, zap.String("role", claims.Role), zap.String("sub", claims.Subject))
			ctx := context.WithValue(r.Context(), httputil.ClaimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole answers 401 without verified claims and 403 when the role is
// not one of roles. No roles means any authenticated caller.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="coop"`)
				httputil.Error(w, http.StatusUnauthorized, "authorization required")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				httputil.Error(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(httputil.ClaimsCtxKey).(*Claims)
	return claims, ok
}
