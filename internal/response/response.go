package response

import (
	"entitlement-api/internal/apperrors"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Response represents a standard error envelope
type Response struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error returns an error response
func Error(code apperrors.Kind, message string) Response {
	return Response{
		Success: false,
		Code:    string(code),
		Message: message,
	}
}

// ErrorJSON sends an error JSON response
func ErrorJSON(c *gin.Context, statusCode int, code apperrors.Kind, message string) {
	c.JSON(statusCode, Error(code, message))
}

// FromError maps err onto the matching status and envelope. Internal causes are
// logged but never returned to the client.
func FromError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		logging.Errorf("Request failed - path: %s, error: %v", c.FullPath(), err)
	}
	ErrorJSON(c, status, apperrors.KindOf(err), apperrors.PublicMessage(err))
}
