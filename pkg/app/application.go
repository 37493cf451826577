package app

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/qrbot/internal/metrics"
	"github.com/osvaldoandrade/qrbot/internal/middleware"
	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/ratelimit"
	"github.com/osvaldoandrade/qrbot/internal/services"
	"github.com/osvaldoandrade/qrbot/internal/tracing"
	"github.com/osvaldoandrade/qrbot/pkg/auth"
	"github.com/osvaldoandrade/qrbot/pkg/auth/static"
	"github.com/osvaldoandrade/qrbot/pkg/config"

	"github.com/gin-gonic/gin"
)

type Application struct {
	Config     *config.Config
	Engine     *gin.Engine
	Logger     *slog.Logger
	Platform   providers.Platform
	Broadcast  services.BroadcastService
	Health     services.HealthService
	Events     services.EventService
	Validators []auth.Validator

	RateLimiter ratelimit.Limiter
	Redis       *redis.Client

	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithPlatform replaces the transport selected by cfg.Transport.
func WithPlatform(p providers.Platform) ApplicationOption {
	return func(app *Application) error {
		app.Platform = p
		return nil
	}
}

// WithRedisClient shares rate-limit state through rdb instead of dialing
// cfg.RedisAddr.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

// WithValidators appends credential validators to the ones built from config.
func WithValidators(validators ...auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validators = append(app.Validators, validators...)
		return nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "qrbot", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{Config: cfg, Logger: logger}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	shutdown, err := tracing.Setup(context.Background(), cfg.TracingConfig(), logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	if app.Platform == nil {
		app.Platform = newPlatform(cfg)
	}
	if err := app.setupRateLimiter(); err != nil {
		return nil, err
	}
	if err := app.setupValidators(); err != nil {
		return nil, err
	}

	transport := providers.Transport(app.Platform)
	if cfg.UploadRatePerSecond > 0 {
		transport = providers.NewPacedTransport(app.Platform, cfg.UploadRatePerSecond)
	}
	policy := cfg.RetryPolicy()
	app.Broadcast = services.NewBroadcastService(transport, app.Platform, policy, services.BroadcastOptions{
		Concurrency:    cfg.BroadcastConcurrency,
		AttemptTimeout: cfg.UploadTimeout(),
	}, logger)
	app.Health = services.NewHealthService(app.Platform, policy, logger)
	app.Events = services.NewEventService(app.Broadcast, logger)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(),
	)
	app.Engine = engine

	logger.Info("application ready",
		"transport", cfg.Transport,
		"max_attempts", policy.MaxAttempts,
		"concurrency", cfg.BroadcastConcurrency,
		"rate_limit", cfg.RateLimitOn(),
		"shared_rate_limit", app.Redis != nil,
	)
	return app, nil
}

func newPlatform(cfg *config.Config) providers.Platform {
	if cfg.Transport == config.TransportLocal {
		return providers.NewLocalTransport(cfg.LocalOutputDir, cfg.Channels())
	}
	return providers.NewSlackTransport(cfg.SlackBotToken, providers.SlackOptions{APIURL: cfg.SlackAPIURL})
}

// setupRateLimiter shares buckets through Redis when one is configured and
// keeps them in process otherwise.
func (app *Application) setupRateLimiter() error {
	cfg := app.Config
	if app.Redis == nil && cfg.RedisAddr != "" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	if app.Redis == nil {
		app.RateLimiter = ratelimit.NewLocalLimiter()
		return nil
	}
	if err := providers.PingRedis(context.Background(), app.Redis); err != nil {
		// Limiter calls fail open, so a cold Redis only costs throttling.
		app.Logger.Warn("redis unavailable at startup", "addr", cfg.RedisAddr, "err", err)
	}
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)
	metrics.RegisterRateLimitCollector(app.Redis, app.Logger)
	return nil
}

func (app *Application) setupValidators() error {
	cfg := app.Config
	var validators []auth.Validator
	if cfg.APIKey != "" {
		v, err := static.NewValidator(cfg.APIKey, "api-key")
		if err != nil {
			return err
		}
		validators = append(validators, v)
	}
	pcs, err := cfg.ProviderConfigs()
	if err != nil {
		return err
	}
	extra, err := auth.NewValidators(pcs)
	if err != nil {
		return err
	}
	app.Validators = append(append(validators, extra...), app.Validators...)
	if len(app.Validators) == 0 {
		app.Logger.Warn("no API key configured; /generate-qr routes are unauthenticated")
	}
	return nil
}

// Close flushes traces and releases the Redis connection.
func (app *Application) Close(ctx context.Context) error {
	var errs []error
	if app.TracingShutdown != nil {
		errs = append(errs, app.TracingShutdown(ctx))
	}
	if app.Redis != nil {
		errs = append(errs, app.Redis.Close())
	}
	return errors.Join(errs...)
}
