package middleware

import (
	"net/http"
	"strings"

	"github.com/NomadCrew/presence-service/logger"
	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// AuthMiddleware validates the Supabase-issued Bearer token and stores the
// subject in the gin context under UserIDKey. WebSocket upgrade requests may
// carry the token as a query parameter instead, since browsers cannot set
// headers on a WebSocket handshake.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.GetLogger()

		token := bearerToken(c)
		if token == "" && isWebSocketUpgrade(c) {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization required",
			})
			return
		}

		userID, err := validateJWT(token, jwtSecret)
		if err != nil {
			log.Warnw("Invalid JWT token",
				"error", err,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
			)
			message := "Invalid authentication token"
			if strings.Contains(err.Error(), "exp") {
				message = "Your session has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": message,
			})
			return
		}
		if userID == "" {
			log.Errorw("Empty subject in valid JWT", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authentication token",
			})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade")
}

// validateJWT verifies the HS256 signature and standard claims, returning the
// token subject.
func validateJWT(tokenString, secret string) (string, error) {
	parsed, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256, []byte(secret)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", err
	}
	return parsed.Subject(), nil
}
