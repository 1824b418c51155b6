package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/routepay/server/internal/shared/errors"
)

// Error writes an error response in the standard envelope.
// AppErrors keep their code and status; anything else becomes a 500
// without leaking internals.
func Error(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusInternalServerError, apperrors.ErrorResponse{
		Error: apperrors.ErrorDetail{
			Code:    "INTERNAL_ERROR",
			Message: "internal server error",
		},
	})
}

// ErrorMessage writes an ad-hoc error with an explicit status and code.
func ErrorMessage(c *gin.Context, status int, code, message string) {
	c.JSON(status, apperrors.ErrorResponse{
		Error: apperrors.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
