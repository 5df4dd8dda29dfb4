package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/logging"
)

const userIDContextKey = logging.UserIDKey

// Middleware validates bearer tokens and stores the authenticated user in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authorization required"})
			return
		}
		userID, err := s.ValidateToken(authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok && userID != ""
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
