package handlers

import (
	"github.com/gin-gonic/gin"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/middleware"
)

// getUserID extracts the authenticated user ID from the Gin context.
// Returns ErrAuthRequired if not present.
func getUserID(c *gin.Context) (string, error) {
	v, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return "", apperrors.ErrAuthRequired
	}
	userID, ok := v.(string)
	if !ok || userID == "" {
		return "", apperrors.ErrAuthRequired
	}
	return userID, nil
}

// respondWithError writes err as the error envelope. Errors that are not an
// *AppError are reported as INTERNAL_ERROR without their details.
func respondWithError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// ErrorDetail represents the inner error object in an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}
