package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/domain/dto"
	"github.com/guttosm/equitypanel/internal/logger"
)

// RecoveryMiddleware turns a panic in a handler into a 500 JSON response
// and logs the panic value with its stack and the request id.
func RecoveryMiddleware() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			rid, _ := c.Get(RequestIDKey)
			log.Error().
				Str("request_id", toString(rid)).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			c.AbortWithStatusJSON(http.StatusInternalServerError,
				dto.NewErrorResponse("Internal server error", fmt.Errorf("%v", r)))
		}()

		c.Next()
	}
}
