package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	merchantIDKey    = "merchant_id"
	merchantEmailKey = "merchant_email"

	apiKeyHeader = "X-API-Key"
)

// APIKeyAuthenticator resolves an API key to a merchant id.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, apiKey string) (uuid.UUID, error)
}

// JWTMiddleware authenticates requests via a Bearer access token.
func JWTMiddleware(jwt *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := jwt.ValidateAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(merchantIDKey, claims.MerchantID)
		c.Set(merchantEmailKey, claims.Email)
		c.Next()
	}
}

// APIKeyMiddleware authenticates requests via the X-API-Key header.
func APIKeyMiddleware(authenticator APIKeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		merchantID, err := authenticator.AuthenticateAPIKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Set(merchantIDKey, merchantID)
		c.Next()
	}
}

// MerchantID returns the authenticated merchant id from the context.
func MerchantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(merchantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
