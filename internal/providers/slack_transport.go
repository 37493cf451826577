package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

const conversationsPageSize = 200

// Slack error codes that the platform documents as temporary.
var transientSlackCodes = map[string]bool{
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
	"ratelimited":         true,
}

type SlackTransport struct {
	client *slack.Client
}

type SlackOptions struct {
	// APIURL overrides https://slack.com/api/, mostly for tests.
	APIURL     string
	HTTPClient *http.Client
}

func NewSlackTransport(token string, opts SlackOptions) *SlackTransport {
	var options []slack.Option
	if u := strings.TrimSpace(opts.APIURL); u != "" {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		options = append(options, slack.OptionAPIURL(u))
	}
	if opts.HTTPClient != nil {
		options = append(options, slack.OptionHTTPClient(opts.HTTPClient))
	}
	return &SlackTransport{client: slack.New(token, options...)}
}

func (t *SlackTransport) UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error) {
	summary, err := t.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:         bytes.NewReader(art.Image),
		FileSize:       len(art.Image),
		Filename:       art.Filename,
		Title:          art.Title,
		InitialComment: art.Caption,
		Channel:        channelID,
	})
	if err != nil {
		return "", ClassifySlackError(err)
	}
	if summary == nil || summary.ID == "" {
		return "", domain.Transient("empty_upload_response", nil)
	}
	return summary.ID, nil
}

func (t *SlackTransport) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	var out []domain.Channel
	cursor := ""
	for {
		page, next, err := t.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           conversationsPageSize,
			Cursor:          cursor,
		})
		if err != nil {
			return nil, ClassifySlackError(err)
		}
		for _, ch := range page {
			out = append(out, domain.Channel{
				ID:         ch.ID,
				Name:       ch.Name,
				IsPrivate:  ch.IsPrivate,
				IsMember:   ch.IsMember,
				NumMembers: ch.NumMembers,
			})
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func (t *SlackTransport) AuthTest(ctx context.Context) (Identity, error) {
	resp, err := t.client.AuthTestContext(ctx)
	if err != nil {
		return Identity{}, ClassifySlackError(err)
	}
	return Identity{Team: resp.Team, User: resp.User, BotID: resp.BotID}, nil
}

// ClassifySlackError maps slack-go errors onto the domain taxonomy.
// Anything not known to be temporary is terminal.
func ClassifySlackError(err error) error {
	if err == nil {
		return nil
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &domain.TransientError{Reason: "ratelimited", RetryAfter: retryAfterOrDefault(rl.RetryAfter), Err: err}
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		if sc.Code >= 500 || sc.Code == http.StatusTooManyRequests || sc.Code == http.StatusRequestTimeout {
			return domain.Transient(fmt.Sprintf("http_%d", sc.Code), err)
		}
		return domain.Terminal(fmt.Sprintf("http_%d", sc.Code), err)
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		code := strings.TrimSpace(se.Err)
		if transientSlackCodes[code] {
			return domain.Transient(code, err)
		}
		return domain.Terminal(code, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient("timeout", err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return domain.Transient("network_error", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.Terminal("canceled", err)
	}
	return domain.Terminal(err.Error(), err)
}

// retryAfterOrDefault is used when the platform signals a rate limit without
// a usable Retry-After header.
func retryAfterOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}
