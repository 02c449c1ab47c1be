package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/logger"
)

// ErrorHandler renders the last error attached to the context as the
// {"error":{"code","message"}} envelope. Binding errors become INVALID_INPUT
// and anything that is not an AppError is reported as INTERNAL_ERROR.
// Responses that were already started, such as event streams, are left alone.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		appErr := asAppError(last.Err)
		if appErr.Code == apperrors.ErrInternalServer.Code && last.IsType(gin.ErrorTypeBind) {
			appErr = apperrors.WithMessage(apperrors.ErrInvalidInput, last.Err.Error())
		}
		writeError(c, appErr)
	}
}

// AbortWithError writes err as the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	writeError(c, asAppError(err))
}

func asAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}

// writeError aborts the request with appErr. Server-side failures are logged
// with their cause; client errors are logged only when they wrap one.
func writeError(c *gin.Context, appErr *apperrors.AppError) {
	fields := []any{
		"code", appErr.Code,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetString(RequestIDKey),
	}
	if userID := c.GetString(UserIDKey); userID != "" {
		fields = append(fields, "user_id", userID)
	}
	if appErr.Internal != nil {
		fields = append(fields, "error", appErr.Internal.Error())
	}

	switch {
	case appErr.StatusCode >= http.StatusInternalServerError:
		logger.Get().Errorw("request failed", fields...)
	case appErr.Internal != nil:
		logger.Get().Warnw("request rejected", fields...)
	}

	c.AbortWithStatusJSON(appErr.StatusCode, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}
