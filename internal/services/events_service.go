package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

const buildMarker = "apk_build"

// ExtractBuildURL finds the download link in a build notification such as
// "apk_build finished URL: https://...". Slack wraps links as <url|label>.
func ExtractBuildURL(text string) (string, bool) {
	if !strings.Contains(text, buildMarker) {
		return "", false
	}
	_, rest, ok := strings.Cut(text, "URL:")
	if !ok {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	u := strings.TrimSuffix(strings.TrimPrefix(fields[0], "<"), ">")
	if i := strings.IndexByte(u, '|'); i >= 0 {
		u = u[:i]
	}
	if u == "" {
		return "", false
	}
	return u, true
}

// EventService turns build notifications posted in a channel into a QR
// delivery back to that channel.
type EventService interface {
	HandleMessage(ctx context.Context, channelID, text string) bool
}

type eventService struct {
	broadcast BroadcastService
	logger    *slog.Logger
	async     func(func())
}

// NewEventService runs deliveries on their own goroutine so the events
// endpoint can acknowledge within the platform's deadline.
func NewEventService(broadcast BroadcastService, logger *slog.Logger) EventService {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventService{broadcast: broadcast, logger: logger, async: func(fn func()) { go fn() }}
}

// HandleMessage reports whether text was a build notification and a delivery
// was started.
func (s *eventService) HandleMessage(ctx context.Context, channelID, text string) bool {
	url, ok := ExtractBuildURL(text)
	if !ok || strings.TrimSpace(channelID) == "" {
		return false
	}
	bg := context.WithoutCancel(ctx)
	s.async(func() {
		summary, err := s.broadcast.Send(bg, domain.ArtifactRequest{SourceURL: url}, channelID, ModeSlackEvent)
		if err != nil {
			s.logger.Error("slack event delivery rejected", slog.String("channel_id", channelID), slog.Any("err", err))
			return
		}
		if out, ok := summary.Single(); !ok {
			s.logger.Warn("slack event delivery failed", slog.String("channel_id", channelID), slog.String("reason", out.Error))
		}
	})
	return true
}
