package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"docqa-platform/internal/config"
	"docqa-platform/utils"
)

const tenantIDKey = "tenant_id"

type AuthMiddleware struct {
	config *config.Config
}

func NewAuthMiddleware(cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{config: cfg}
}

// RequireAuth validates the bearer token and stores the tenant id in the
// request context. EventSource cannot set headers, so SSE endpoints may carry
// the token in a query parameter instead.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		tenantID, err := a.validateToken(tokenString)
		if err != nil {
			utils.RespondWithUnauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(tenantIDKey, tenantID)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

func (a *AuthMiddleware) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	tenantID, _ := claims["tenant_id"].(string)
	if tenantID == "" {
		// Tokens issued by the auth service use sub for the tenant.
		tenantID, _ = claims["sub"].(string)
	}
	if tenantID == "" {
		return "", fmt.Errorf("token carries no tenant")
	}
	return tenantID, nil
}

// GetTenantID retrieves the authenticated tenant from the request context.
func GetTenantID(c *gin.Context) string {
	if id, exists := c.Get(tenantIDKey); exists {
		if str, ok := id.(string); ok {
			return str
		}
	}
	return ""
}
