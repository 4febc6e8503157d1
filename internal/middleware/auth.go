package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-chat-service/internal/auth"
)

// AuthMiddleware validates the Authorization header with the token validator
// and stores the authenticated user id in the gin context.
func AuthMiddleware(validator *auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := validator.Validate(parts[1])
		if err != nil {
			detail := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				detail = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": detail})
			return
		}

		c.Set("userID", identity.UserID)
		c.Next()
	}
}
