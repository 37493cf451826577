package tracing

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

const (
	defaultServiceName  = "qrbot"
	defaultEndpoint     = "localhost:4317"
	instrumentationName = "github.com/osvaldoandrade/qrbot"
)

// Config mirrors the tracing block of the service configuration. Blank fields
// fall back to the standard OTEL_* environment variables.
type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// Shutdown flushes buffered spans. It is always safe to call.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs the global tracer provider. Exporter problems are logged
// and leave tracing off; they never fail startup.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (Shutdown, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(Propagator())
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	cfg = cfg.withEnv()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "endpoint", cfg.OTLPEndpoint, "err", err)
		return noopShutdown, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(serviceResource(cfg, logger)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// withEnv fills blank fields from OTEL_* variables and then defaults.
// OTEL_EXPORTER_OTLP_INSECURE overrides the configured value when set.
func (cfg Config) withEnv() Config {
	cfg.ServiceName = firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
	cfg.OTLPEndpoint = sanitizeEndpoint(firstNonEmpty(cfg.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), defaultEndpoint))
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		cfg.OTLPInsecure = parseBool(v)
	}
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}
	return cfg
}

func serviceResource(cfg Config, logger *slog.Logger) *resource.Resource {
	attrs := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(firstNonEmpty(cfg.Environment, "dev")),
	)
	res, err := resource.Merge(resource.Default(), attrs)
	if err != nil {
		logger.Warn("otel resource merge failed; using default", "err", err)
		return resource.Default()
	}
	return res
}

// Propagator carries W3C trace context and baggage.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Tracer is the tracer every qrbot component starts spans from.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// sanitizeEndpoint turns a URL-shaped OTLP endpoint into the host:port the
// gRPC exporter wants.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func ParseSampleRatio(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
