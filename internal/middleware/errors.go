package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/domain/dto"
	"github.com/guttosm/equitypanel/internal/domain/errs"
)

// ErrorHandler renders errors attached with c.Error when the handler did
// not write a response itself.
//
// Status mapping for the last error:
//   - errs.ErrConfig: 400
//   - errs.ErrDataIntegrity: 422
//   - anything else: 500, or the status already set if it is an error status.
func ErrorHandler(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}

	last := c.Errors.Last().Err
	status := http.StatusInternalServerError
	switch {
	case errors.Is(last, errs.ErrConfig):
		status = http.StatusBadRequest
	case errors.Is(last, errs.ErrDataIntegrity):
		status = http.StatusUnprocessableEntity
	case c.Writer.Status() >= http.StatusBadRequest:
		status = c.Writer.Status()
	}

	c.JSON(status, dto.NewErrorResponse(http.StatusText(status), last))
}

// AbortWithError stops the chain and writes a dto.ErrorResponse with the
// given status.
func AbortWithError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(message, err))
}
