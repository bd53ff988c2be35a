package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/reports"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *TokenManager) {
	t.Helper()
	tokens, err := NewTokenManager("test-secret", "report-engine")
	require.NoError(t, err)

	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), NewHandler(), tokens)
	r.GET("/admin", tokens.Middleware(), RequireSuperuser(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, tokens
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewTokenManager_RequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", "")
	assert.Error(t, err)
}

func TestMiddleware_Me(t *testing.T) {
	r, tokens := newRouter(t)
	token, err := tokens.Issue(&reports.Principal{
		ID:       "u-1",
		Username: "ana",
		Roles:    []reports.RoleGrant{{Code: "finance"}, {Role: &reports.RoleRef{Code: "audit"}}},
	}, time.Hour)
	require.NoError(t, err)

	w := do(r, "/api/v1/auth/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u-1","username":"ana","is_superuser":false,"roles":["finance","audit"]}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "/api/v1/auth/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/api/v1/auth/me", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", token).Code)
}

func TestMiddleware_RejectsExpiredAndForeignTokens(t *testing.T) {
	r, tokens := newRouter(t)

	expired, err := tokens.Issue(&reports.Principal{ID: "u"}, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/api/v1/auth/me", expired).Code)

	other, err := NewTokenManager("other-secret", "report-engine")
	require.NoError(t, err)
	foreign, err := other.Issue(&reports.Principal{ID: "u", IsSuperuser: true}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/admin", foreign).Code)

	admin, err := tokens.Issue(&reports.Principal{ID: "root", IsSuperuser: true}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", admin).Code)
}

func TestClaims_PrincipalRoleShapes(t *testing.T) {
	claims := &Claims{
		Roles: []any{
			"finance",
			map[string]any{"code": "ops"},
			map[string]any{"role": map[string]any{"code": "audit"}},
			map[string]any{"name": "ignored"},
			42,
		},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9"},
	}

	p := claims.Principal()
	assert.Equal(t, "u-9", p.ID)
	assert.Equal(t, []string{"finance", "ops", "audit"}, p.RoleCodes())
}
