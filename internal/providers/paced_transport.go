package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// PacedTransport shares one token bucket across every upload in the process
// so concurrent broadcasts stay under the platform's write limits.
type PacedTransport struct {
	next    Transport
	limiter *rate.Limiter
}

// NewPacedTransport allows perSecond uploads per second with a burst of the
// same size. perSecond <= 0 disables pacing.
func NewPacedTransport(next Transport, perSecond float64) *PacedTransport {
	var lim *rate.Limiter
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &PacedTransport{next: next, limiter: lim}
}

func (p *PacedTransport) UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", domain.Transient("upload_pacing", fmt.Errorf("wait for upload slot: %w", err))
		}
	}
	return p.next.UploadFile(ctx, channelID, art)
}
