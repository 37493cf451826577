package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/osvaldoandrade/qrbot/internal/metrics"
	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/retry"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// ChannelResolver maps references to channel IDs for the lifetime of one
// deliver call. The channel listing is fetched at most once, on the first
// name that needs it, and shared by every destination of that call.
// Build a fresh resolver per call; never share one between requests.
type ChannelResolver struct {
	lister    providers.ChannelLister
	policy    domain.RetryPolicy
	logger    *slog.Logger
	retryOpts []retry.Option

	once  sync.Once
	index atomic.Pointer[channelIndex]
	err   error
}

type channelIndex struct {
	channels []domain.Channel
	byName   map[string]domain.Channel
	byID     map[string]domain.Channel
}

func newChannelIndex(channels []domain.Channel) *channelIndex {
	idx := &channelIndex{
		channels: channels,
		byName:   make(map[string]domain.Channel, len(channels)),
		byID:     make(map[string]domain.Channel, len(channels)),
	}
	for _, ch := range channels {
		if _, dup := idx.byName[ch.Name]; !dup {
			idx.byName[ch.Name] = ch
		}
		idx.byID[ch.ID] = ch
	}
	return idx
}

func NewChannelResolver(lister providers.ChannelLister, policy domain.RetryPolicy, logger *slog.Logger, opts ...retry.Option) *ChannelResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelResolver{lister: lister, policy: policy, logger: logger, retryOpts: opts}
}

// Resolve returns the channel ref points at. IDs are returned as-is with no
// lookup. Names are matched exactly against the listing; a missing name is
// a non-retriable ResolutionError, a failed listing a retriable one when the
// underlying failure was transient.
func (r *ChannelResolver) Resolve(ctx context.Context, ref domain.Reference) (domain.Channel, error) {
	if ref.IsID() {
		return domain.Channel{ID: ref.Value, Name: r.knownName(ref.Value)}, nil
	}
	if ref.Value == "" {
		return domain.Channel{}, &domain.ResolutionError{Reference: ref.Raw, Reason: domain.ReasonChannelNotFound}
	}
	if _, err := r.Listing(ctx); err != nil {
		return domain.Channel{}, &domain.ResolutionError{
			Reference: ref.Raw,
			Reason:    domain.ReasonChannelListingFailed,
			Retriable: domain.IsRetriable(err),
			Err:       err,
		}
	}
	ch, ok := r.index.Load().byName[ref.Value]
	if !ok {
		return domain.Channel{}, &domain.ResolutionError{Reference: ref.Raw, Reason: domain.ReasonChannelNotFound}
	}
	return ch, nil
}

// Listing returns every channel visible to the bot, fetching it on first use.
// The fetch is retried under the resolver's policy.
func (r *ChannelResolver) Listing(ctx context.Context) ([]domain.Channel, error) {
	r.once.Do(func() {
		res := retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) ([]domain.Channel, error) {
			return r.lister.ListChannels(ctx)
		}, r.retryOpts...)
		if !res.OK() {
			metrics.ChannelListingTotal.WithLabelValues("failure").Inc()
			r.logger.Warn("channel listing failed", slog.Int("attempts", res.Attempts), slog.Any("err", res.Err))
			r.err = res.Err
			return
		}
		metrics.ChannelListingTotal.WithLabelValues("success").Inc()
		r.index.Store(newChannelIndex(res.Value))
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.index.Load().channels, nil
}

// MemberChannels is the subset of the listing the bot has joined.
func (r *ChannelResolver) MemberChannels(ctx context.Context) ([]domain.Channel, error) {
	all, err := r.Listing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Channel, 0, len(all))
	for _, ch := range all {
		if ch.IsMember {
			out = append(out, ch)
		}
	}
	return out, nil
}

// knownName fills in a display name for an ID when the listing happens to be
// loaded already. It never triggers a fetch.
func (r *ChannelResolver) knownName(id string) string {
	idx := r.index.Load()
	if idx == nil {
		return ""
	}
	return idx.byID[id].Name
}
