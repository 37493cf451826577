package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/osvaldoandrade/qrbot/pkg/app"
	_ "github.com/osvaldoandrade/qrbot/pkg/auth/hs256"  // Register HS256 JWT auth provider
	_ "github.com/osvaldoandrade/qrbot/pkg/auth/static" // Register static API key auth provider
	"github.com/osvaldoandrade/qrbot/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv("QRBOT_CONFIG_PATH")); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	app.SetupMappings(application)
	logger := application.Logger

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info("listening", "addr", addr, "transport", cfg.Transport)

	// Both calls are no-ops outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdog(ctx, logger)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Dispatched deliveries outlive their request; give a final upload
	// attempt room to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.UploadTimeout()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	return application.Close(shutdownCtx)
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context, logger *slog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	logger.Info("systemd watchdog enabled", "interval", interval)
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
