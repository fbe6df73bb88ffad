package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/shared/telemetry"
)

// Recovery turns handler panics into a 500 error envelope. Aborted handlers
// (client went away mid-stream) are re-raised for net/http to handle.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			documentID, _ := c.Get("documentId")
			telemetry.Error("http.panic", map[string]any{
				"request_id":  RequestIDFromContext(c),
				"tenant_id":   TenantIDFromContext(c),
				"document_id": documentID,
				"route":       c.FullPath(),
				"method":      c.Request.Method,
				"error":       fmt.Sprint(rec),
				"stack":       string(debug.Stack()),
			})
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "unexpected server error", nil)
		}()
		c.Next()
	}
}
