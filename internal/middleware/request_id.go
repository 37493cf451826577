package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
	maxRequestIDLen = 128
)

type requestIDCtxKey struct{}

// RequestIDMiddleware keeps a caller-supplied X-Request-Id when it is short
// printable ASCII and otherwise mints a uuid. The id rides on the gin
// context, the request context and the response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set(requestIDKey, reqID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDCtxKey{}, reqID))
		c.Next()
	}
}

// RequestIDFrom returns the id RequestIDMiddleware stored, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
