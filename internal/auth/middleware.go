// Package auth turns bearer tokens into report principals.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"carbon-scribe/report-engine/internal/reports"
)

const principalKey = "report_principal"

// Claims are the JWT claims understood by the report API. Roles may be
// plain codes or objects of the form {"code": ...} / {"role": {"code": ...}}.
type Claims struct {
	Username    string `json:"username,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
	Roles       []any  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts the claims into the identity used by the permission gate
func (c *Claims) Principal() *reports.Principal {
	p := &reports.Principal{
		ID:          c.Subject,
		Username:    c.Username,
		IsSuperuser: c.IsSuperuser,
	}
	for _, r := range c.Roles {
		if grant, ok := roleGrant(r); ok {
			p.Roles = append(p.Roles, grant)
		}
	}
	return p
}

func roleGrant(v any) (reports.RoleGrant, bool) {
	switch t := v.(type) {
	case string:
		return reports.RoleGrant{Code: t}, t != ""
	case map[string]any:
		if code := cast.ToString(t["code"]); code != "" {
			return reports.RoleGrant{Code: code}, true
		}
		if nested, ok := t["role"].(map[string]any); ok {
			if code := cast.ToString(nested["code"]); code != "" {
				return reports.RoleGrant{Role: &reports.RoleRef{Code: code}}, true
			}
		}
	}
	return reports.RoleGrant{}, false
}

// TokenManager signs and verifies HMAC tokens
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a token manager. An empty secret is rejected.
func NewTokenManager(secret, issuer string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs a token for principal valid for ttl
func (m *TokenManager) Issue(principal *reports.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	roles := make([]any, 0, len(principal.Roles))
	for _, code := range principal.RoleCodes() {
		roles = append(roles, code)
	}
	claims := &Claims{
		Username:    principal.Username,
		IsSuperuser: principal.IsSuperuser,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse verifies a token and returns its claims
func (m *TokenManager) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's principal in the gin context
func (m *TokenManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		SetPrincipal(c, claims.Principal())
		c.Next()
	}
}

// RequireSuperuser aborts with 403 unless the caller is a superuser
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil || !p.IsSuperuser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "superuser required"})
			return
		}
		c.Next()
	}
}

// SetPrincipal stores principal on the request context
func SetPrincipal(c *gin.Context, principal *reports.Principal) {
	c.Set(principalKey, principal)
}

// PrincipalFrom returns the principal set by Middleware, or nil
func PrincipalFrom(c *gin.Context) *reports.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*reports.Principal)
	return p
}
