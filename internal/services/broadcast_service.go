package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/qrbot/internal/metrics"
	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/render"
	"github.com/osvaldoandrade/qrbot/internal/retry"
	"github.com/osvaldoandrade/qrbot/internal/tracing"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

type Mode string

const (
	ModeSingle       Mode = "single"
	ModeCustom       Mode = "custom"
	ModeBroadcast    Mode = "broadcast"
	ModeBroadcastAll Mode = "broadcast_all"
	ModeSlackEvent   Mode = "slack_event"
)

const DefaultConcurrency = 5

var ErrNoMemberChannels = errors.New("bot is not a member of any channels")

// BroadcastService renders an artifact and delivers it to channels. Only
// request-level problems come back as errors; per-destination failures live
// in the summary.
type BroadcastService interface {
	// Send delivers to a single channel reference.
	Send(ctx context.Context, req domain.ArtifactRequest, channel string, mode Mode) (domain.BroadcastSummary, error)
	// Broadcast delivers to an explicit list of references, in order.
	Broadcast(ctx context.Context, req domain.ArtifactRequest, channels []string) (domain.BroadcastSummary, error)
	// BroadcastAll delivers to every channel the bot is a member of. The
	// membership list is read once when the call starts.
	BroadcastAll(ctx context.Context, req domain.ArtifactRequest) (domain.ChannelSweep, error)
	// Deliver is the primitive the other three share.
	Deliver(ctx context.Context, art domain.Artifact, refs []domain.Reference, mode Mode) domain.BroadcastSummary
	// Channels lists the channels the bot is a member of.
	Channels(ctx context.Context) ([]domain.Channel, error)
}

type BroadcastOptions struct {
	Concurrency    int
	AttemptTimeout time.Duration
	RetryOptions   []retry.Option
}

type broadcastService struct {
	lister      providers.ChannelLister
	uploader    Uploader
	policy      domain.RetryPolicy
	concurrency int
	logger      *slog.Logger
	retryOpts   []retry.Option
}

func NewBroadcastService(transport providers.Transport, lister providers.ChannelLister, policy domain.RetryPolicy, opts BroadcastOptions, logger *slog.Logger) BroadcastService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &broadcastService{
		lister:      lister,
		uploader:    NewRetryingUploader(transport, policy, opts.AttemptTimeout, logger, opts.RetryOptions...),
		policy:      policy,
		concurrency: opts.Concurrency,
		logger:      logger,
		retryOpts:   opts.RetryOptions,
	}
}

func (s *broadcastService) newResolver() *ChannelResolver {
	return NewChannelResolver(s.lister, s.policy, s.logger, s.retryOpts...)
}

func (s *broadcastService) Send(ctx context.Context, req domain.ArtifactRequest, channel string, mode Mode) (domain.BroadcastSummary, error) {
	ref := domain.ParseReference(channel)
	if ref.Value == "" {
		return domain.BroadcastSummary{}, domain.NewValidationError("channel", "is required")
	}
	art, err := render.Artifact(req)
	if err != nil {
		return domain.BroadcastSummary{}, err
	}
	return s.deliver(ctx, art, []domain.Reference{ref}, s.newResolver(), mode), nil
}

func (s *broadcastService) Broadcast(ctx context.Context, req domain.ArtifactRequest, channels []string) (domain.BroadcastSummary, error) {
	refs := make([]domain.Reference, 0, len(channels))
	for _, c := range channels {
		refs = append(refs, domain.ParseReference(c))
	}
	art, err := render.Artifact(req)
	if err != nil {
		return domain.BroadcastSummary{}, err
	}
	return s.deliver(ctx, art, refs, s.newResolver(), ModeBroadcast), nil
}

func (s *broadcastService) BroadcastAll(ctx context.Context, req domain.ArtifactRequest) (domain.ChannelSweep, error) {
	art, err := render.Artifact(req)
	if err != nil {
		return domain.ChannelSweep{}, err
	}
	resolver := s.newResolver()
	members, err := resolver.MemberChannels(ctx)
	if err != nil {
		return domain.ChannelSweep{}, err
	}
	if len(members) == 0 {
		return domain.ChannelSweep{}, ErrNoMemberChannels
	}
	refs := make([]domain.Reference, 0, len(members))
	for _, ch := range members {
		refs = append(refs, domain.Reference{Raw: ch.Name, Kind: domain.RefChannelID, Value: ch.ID})
	}
	summary := s.deliver(ctx, art, refs, resolver, ModeBroadcastAll)
	return domain.ChannelSweep{BroadcastSummary: summary, TotalChannels: len(members)}, nil
}

func (s *broadcastService) Deliver(ctx context.Context, art domain.Artifact, refs []domain.Reference, mode Mode) domain.BroadcastSummary {
	return s.deliver(ctx, art, refs, s.newResolver(), mode)
}

func (s *broadcastService) Channels(ctx context.Context) ([]domain.Channel, error) {
	return s.newResolver().MemberChannels(ctx)
}

// deliver fans art out to refs on a bounded worker pool. Each destination
// writes only its own slot, so the result order is the input order no matter
// which uploads finish first. Once dispatched a destination runs to its own
// end: cancelling ctx does not cut short retries already under way.
func (s *broadcastService) deliver(ctx context.Context, art domain.Artifact, refs []domain.Reference, resolver *ChannelResolver, mode Mode) domain.BroadcastSummary {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.Tracer().Start(ctx, "qrbot.broadcast", trace.WithAttributes(
		attribute.String("qrbot.mode", string(mode)),
		attribute.Int("qrbot.destinations", len(refs)),
	))
	defer span.End()

	outcomes := make([]domain.DeliveryOutcome, len(refs))
	workers := s.concurrency
	if workers > len(refs) {
		workers = len(refs)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.deliverOne(ctx, art, refs[i], resolver, mode)
			}
		}()
	}
	for i := range refs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	summary := Summarize(outcomes)
	elapsed := time.Since(start)
	metrics.BroadcastDurationSeconds.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("qrbot.success_count", summary.SuccessCount),
		attribute.Int("qrbot.failed_count", summary.FailedCount),
	)
	if summary.FailedCount > 0 {
		span.SetStatus(codes.Error, summary.Message())
	}

	fields := []any{
		slog.String("mode", string(mode)),
		slog.Int("total", summary.TotalCount),
		slog.Int("success", summary.SuccessCount),
		slog.Int("failed", summary.FailedCount),
		slog.Duration("dur", elapsed),
	}
	if summary.FailedCount > 0 {
		s.logger.Warn("delivery finished with failures", fields...)
	} else {
		s.logger.Info("delivery finished", fields...)
	}
	return summary
}

func (s *broadcastService) deliverOne(ctx context.Context, art domain.Artifact, ref domain.Reference, resolver *ChannelResolver, mode Mode) domain.DeliveryOutcome {
	start := time.Now()
	ctx, span := tracing.Tracer().Start(ctx, "qrbot.deliver.destination", trace.WithAttributes(
		attribute.String("qrbot.reference", ref.Raw),
	))
	defer span.End()

	var out domain.DeliveryOutcome
	ch, err := resolver.Resolve(ctx, ref)
	if err != nil {
		out = domain.Failed(ref, "", domain.FailureResolution, domain.Reason(err), domain.IsRetriable(err), 0)
	} else {
		span.SetAttributes(attribute.String("qrbot.channel_id", ch.ID))
		out = s.uploader.Upload(ctx, ch.ID, art)
		out.Reference = ref
		out.ChannelName = ch.Name
	}
	out.Duration = time.Since(start)

	metrics.DeliveriesTotal.WithLabelValues(string(mode), string(out.Status), string(out.FailureKind)).Inc()
	if out.Attempts > 0 {
		metrics.DeliveryAttempts.Observe(float64(out.Attempts))
	}

	fields := []any{
		slog.String("channel", ref.Raw),
		slog.String("channel_id", out.ChannelID),
		slog.Int("attempts", out.Attempts),
		slog.Duration("dur", out.Duration),
	}
	if out.Succeeded() {
		s.logger.Info("delivery succeeded", append(fields, slog.String("file_id", out.FileID))...)
		return out
	}
	span.SetStatus(codes.Error, out.Error)
	s.logger.Warn("delivery failed", append(fields,
		slog.String("reason", out.Error),
		slog.String("failure_kind", string(out.FailureKind)),
		slog.Bool("retriable", out.Retriable))...)
	return out
}
