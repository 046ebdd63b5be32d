package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	fwd "github.com/fabian4/gateway-lite/internal/forward"
	"github.com/fabian4/gateway-lite/internal/gwerr"
	"github.com/fabian4/gateway-lite/internal/relay"
)

// Recovery turns a panic in the pipeline into a 500 envelope. The server's
// own abort sentinel is re-raised so net/http can drop the connection.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			log.Error("panic recovered",
				zap.Any("error", rec),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.Writer.Header().Get(fwd.HeaderRequestID)),
				zap.ByteString("stack", debug.Stack()),
			)

			c.Abort()
			if c.Writer.Written() {
				return
			}
			relay.Error(c.Writer, gwerr.New(gwerr.Internal, "", fmt.Errorf("panic: %v", rec)))
		}()
		c.Next()
	}
}
