package middleware

import (
	"net/http"

	"smallbiznis-airdrop/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error. BaseErrors keep their status; anything
// else is logged and reported as internal.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		if v, ok := errutil.As(last.Err); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		zap.L().Error("[http] unhandled error", zap.String("path", c.FullPath()), zap.Error(last.Err))
		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}.JSON())
	}
}
