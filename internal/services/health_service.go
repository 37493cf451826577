package services

import (
	"context"
	"log/slog"

	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/retry"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

type Connection struct {
	Connected bool   `json:"connected"`
	Team      string `json:"team,omitempty"`
	User      string `json:"user,omitempty"`
	BotID     string `json:"bot_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type HealthService interface {
	Check(ctx context.Context) Connection
}

type healthService struct {
	checker   providers.HealthChecker
	policy    domain.RetryPolicy
	logger    *slog.Logger
	retryOpts []retry.Option
}

func NewHealthService(checker providers.HealthChecker, policy domain.RetryPolicy, logger *slog.Logger, opts ...retry.Option) HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &healthService{checker: checker, policy: policy, logger: logger, retryOpts: opts}
}

func (s *healthService) Check(ctx context.Context) Connection {
	res := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) (providers.Identity, error) {
		return s.checker.AuthTest(ctx)
	}, s.retryOpts...)
	if !res.OK() {
		s.logger.Warn("health check failed", slog.Int("attempts", res.Attempts), slog.Any("err", res.Err))
		return Connection{Connected: false, Error: res.Err.Error()}
	}
	id := res.Value
	return Connection{Connected: true, Team: id.Team, User: id.User, BotID: id.BotID}
}
