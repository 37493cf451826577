package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/qrbot/internal/metrics"
	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/retry"
	"github.com/osvaldoandrade/qrbot/internal/tracing"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// Uploader delivers one artifact to one resolved channel, retrying
// transient failures. It never returns an error: every ending is encoded in
// the outcome.
type Uploader interface {
	Upload(ctx context.Context, channelID string, art domain.Artifact) domain.DeliveryOutcome
}

type retryingUploader struct {
	transport      providers.Transport
	policy         domain.RetryPolicy
	attemptTimeout time.Duration
	logger         *slog.Logger
	retryOpts      []retry.Option
}

// NewRetryingUploader returns an Uploader that is safe for concurrent use:
// policy is copied and nothing else is mutated. attemptTimeout bounds each
// transport call; zero means no per-attempt bound.
func NewRetryingUploader(transport providers.Transport, policy domain.RetryPolicy, attemptTimeout time.Duration, logger *slog.Logger, opts ...retry.Option) Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingUploader{
		transport:      transport,
		policy:         policy.Normalize(),
		attemptTimeout: attemptTimeout,
		logger:         logger,
		retryOpts:      opts,
	}
}

func (u *retryingUploader) Upload(ctx context.Context, channelID string, art domain.Artifact) domain.DeliveryOutcome {
	tracer := tracing.Tracer()
	opts := append([]retry.Option{
		retry.WithNotify(func(attempt int, delay time.Duration, err error) {
			u.logger.Debug("upload retry scheduled",
				slog.String("channel_id", channelID),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("err", err))
		}),
	}, u.retryOpts...)

	res := retry.Do(ctx, u.policy, func(ctx context.Context, attempt int) (string, error) {
		actx, span := tracer.Start(ctx, "qrbot.upload.attempt", trace.WithAttributes(
			attribute.String("qrbot.channel_id", channelID),
			attribute.Int("qrbot.attempt", attempt),
		))
		defer span.End()

		if u.attemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(actx, u.attemptTimeout)
			defer cancel()
		}
		fileID, err := u.transport.UploadFile(actx, channelID, art)
		switch {
		case err == nil:
			metrics.UploadAttemptsTotal.WithLabelValues("success").Inc()
		case domain.IsRetriable(err):
			metrics.UploadAttemptsTotal.WithLabelValues("transient").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Reason(err))
		default:
			metrics.UploadAttemptsTotal.WithLabelValues("terminal").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Reason(err))
		}
		return fileID, err
	}, opts...)

	if res.OK() {
		return domain.Succeeded(domain.Reference{}, channelID, res.Value, res.Attempts)
	}
	kind := domain.FailureTerminal
	if res.Retriable {
		kind = domain.FailureRetryExhausted
	}
	return domain.Failed(domain.Reference{}, channelID, kind, domain.Reason(res.Err), res.Retriable, res.Attempts)
}
