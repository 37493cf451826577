package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/qrbot/internal/tracing"
)

const TraceIDHeader = "X-Trace-Id"

// TracingMiddleware continues the caller's trace, if any, and opens the
// server span that broadcast and upload spans hang off. The trace id is
// echoed back so a failed delivery can be found in the collector.
func TracingMiddleware() gin.HandlerFunc {
	tracer := tracing.Tracer()
	return func(c *gin.Context) {
		req := c.Request
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, req.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.URLPath(req.URL.Path),
				semconv.ClientAddress(c.ClientIP()),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header(TraceIDHeader, sc.TraceID().String())
		}
		c.Request = req.WithContext(ctx)
		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName(req.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
		}
		if id := c.GetString(requestIDKey); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
