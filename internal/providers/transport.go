package providers

import (
	"context"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// Transport performs one upload attempt to one channel and returns the
// platform file id. Failures are classified as *domain.TransientError or
// *domain.TerminalError so callers can decide whether to retry.
type Transport interface {
	UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error)
}

// ChannelLister returns every channel visible to the bot, paginating as
// needed. IsMember marks the channels the bot has joined.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]domain.Channel, error)
}

type Identity struct {
	Team  string `json:"team"`
	User  string `json:"user"`
	BotID string `json:"bot_id"`
}

type HealthChecker interface {
	AuthTest(ctx context.Context) (Identity, error)
}

// Platform is everything the services need from a messaging workspace.
type Platform interface {
	Transport
	ChannelLister
	HealthChecker
}
