package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth() *Auth {
	return New(Config{Secret: "test_secret", TokenTTL: time.Hour})
}

func TestIssueAndValidateToken(t *testing.T) {
	a := testAuth()

	token, expiresAt, err := a.IssueToken("agent-owner-1", "user")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-owner-1", claims.Subject)
	assert.Equal(t, "user", claims.Role)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := New(Config{Secret: "test_secret", TokenTTL: -time.Minute})
	token, _, err := a.IssueToken("subject-1", "user")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := New(Config{Secret: "secret-a", TokenTTL: time.Hour})
	token, _, err := a.IssueToken("subject-1", "user")
	require.NoError(t, err)

	other := New(Config{Secret: "secret-b", TokenTTL: time.Hour})
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func setupRouter(a *Auth) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", a.Middleware(), func(c *gin.Context) {
		subject, _ := Subject(c)
		c.JSON(http.StatusOK, gin.H{"subject": subject})
	})
	r.GET("/optional", a.OptionalMiddleware(), func(c *gin.Context) {
		subject, ok := Subject(c)
		c.JSON(http.StatusOK, gin.H{"subject": subject, "authenticated": ok})
	})
	r.GET("/admin-only", a.Middleware(), a.RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	a := testAuth()
	r := setupRouter(a)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	a := testAuth()
	r := setupRouter(a)
	token, _, err := a.IssueToken("subject-1", "user")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalMiddlewareAllowsAnonymous(t *testing.T) {
	a := testAuth()
	r := setupRouter(a)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/optional", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoleRejectsWrongRole(t *testing.T) {
	a := testAuth()
	r := setupRouter(a)
	token, _, err := a.IssueToken("subject-1", "user")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleAcceptsAdmin(t *testing.T) {
	a := testAuth()
	r := setupRouter(a)
	token, _, err := a.IssueToken("subject-1", "admin")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
