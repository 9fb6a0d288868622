package middleware

import (
	"errors"
	"net/http"
	"strconv"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/logger"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON error envelope returned to clients.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorHandler converts errors attached to the gin context into JSON
// responses, mapping AppError types onto HTTP status codes.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		log := logger.GetLogger()

		var appError *apperrors.AppError
		if errors.As(err, &appError) {
			statusCode := appError.GetHTTPStatus()
			log.Warnw("Request failed",
				"type", appError.Type,
				"message", appError.Message,
				"status", statusCode,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", c.GetString(RequestIDKey),
			)
			c.JSON(statusCode, ErrorResponse{
				Type:    string(appError.Type),
				Message: appError.Message,
				Details: appError.Detail,
				Code:    strconv.Itoa(statusCode),
			})
			return
		}

		log.Errorw("Unhandled error",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", c.GetString(RequestIDKey),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Type:    string(apperrors.ServerError),
			Message: "Internal server error",
			Code:    strconv.Itoa(http.StatusInternalServerError),
		})
	}
}
