// Package auth implements the bearer-token half of the Rate Limiter & Auth
// Gate: HMAC-signed opaque tokens carrying {subject, expiry}, validated at
// the server boundary before any other state is touched. Grounded on
// internal/auth/auth.go's JWT HS256 Claims/ValidateToken/AuthMiddleware
// machinery; there is no external identity-provider bridge here (see
// DESIGN.md), so the Claims shape is narrowed down to a subject and a role.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload for an Aragora bearer token: just enough to
// identify the caller for rate limiting and audit (created_by).
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Config configures token signing.
type Config struct {
	Secret   string
	TokenTTL time.Duration
}

// Auth issues and validates bearer tokens.
type Auth struct {
	config Config
}

// New creates an Auth instance.
func New(config Config) *Auth {
	return &Auth{config: config}
}

// IssueToken signs a bearer token for subject, expiring after the
// configured TTL. Expiry is embedded in the token itself so validation
// never needs a durable session store.
func (a *Auth) IssueToken(subject, role string) (string, time.Time, error) {
	expiresAt := time.Now().Add(a.config.TokenTTL)
	claims := &Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "aragora",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %v", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies an HS256 bearer token. Expiry is
// enforced by jwt.Parser itself before Claims are returned, so an expired
// token never reaches any handler state.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.fromHeader(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// OptionalMiddleware attaches subject/role when a valid token is present but
// does not reject the request otherwise — used by read endpoints that are
// public, so the rate limiter can count an authenticated caller against its
// token subject's bucket instead of its IP's.
func (a *Auth) OptionalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.fromHeader(c)
		if err == nil {
			c.Set("subject", claims.Subject)
			c.Set("role", claims.Role)
		}
		c.Next()
	}
}

func (a *Auth) fromHeader(c *gin.Context) (*Claims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errors.New("authorization header is required")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("authorization header format must be Bearer {token}")
	}
	return a.ValidateToken(parts[1])
}

// Subject returns the authenticated subject from the context, if any.
func Subject(c *gin.Context) (string, bool) {
	v, exists := c.Get("subject")
	if !exists {
		return "", false
	}
	return v.(string), true
}

// RequireRole rejects requests whose authenticated role is neither the
// given role nor "admin".
func (a *Auth) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}
		userRole, _ := v.(string)
		if userRole != role && userRole != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}
