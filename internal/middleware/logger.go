package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const loggerKey = "logger"

// LoggerMiddleware stores a request-scoped logger and writes one access line
// per request. It must run after RequestIDMiddleware.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		l := logger.With(slog.String("request_id", c.GetString(requestIDKey)))
		c.Set(loggerKey, l)
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", status),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		}
		if sub := c.GetString(authSubjectKey); sub != "" {
			attrs = append(attrs, slog.String("auth_subject", sub))
		}
		l.Log(c.Request.Context(), level, "http request", attrs...)
	}
}

// Logger returns the request logger, falling back to slog.Default.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
