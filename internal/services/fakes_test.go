package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/retry"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// scriptedTransport answers each upload from a per-channel script; the last
// entry repeats once the script runs out. A nil entry is a success.
type scriptedTransport struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
	delay   func(channelID string) time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newScriptedTransport(scripts map[string][]error) *scriptedTransport {
	return &scriptedTransport{scripts: scripts, calls: map[string]int{}}
}

func (t *scriptedTransport) UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error) {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		m := t.maxInFlight.Load()
		if n <= m || t.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	t.mu.Lock()
	t.calls[channelID]++
	call := t.calls[channelID]
	script := t.scripts[channelID]
	t.mu.Unlock()

	if t.delay != nil {
		time.Sleep(t.delay(channelID))
	}

	var err error
	if len(script) > 0 {
		if call <= len(script) {
			err = script[call-1]
		} else {
			err = script[len(script)-1]
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("F-%s-%d", channelID, call), nil
}

func (t *scriptedTransport) Calls(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[channelID]
}

func (t *scriptedTransport) TotalCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.calls {
		total += n
	}
	return total
}

type fakeLister struct {
	mu       sync.Mutex
	channels []domain.Channel
	errs     []error
	calls    int
}

func (l *fakeLister) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= len(l.errs) && l.errs[l.calls-1] != nil {
		return nil, l.errs[l.calls-1]
	}
	out := make([]domain.Channel, len(l.channels))
	copy(out, l.channels)
	return out, nil
}

func (l *fakeLister) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeChecker struct {
	errs  []error
	calls int
}

func (c *fakeChecker) AuthTest(ctx context.Context) (providers.Identity, error) {
	c.calls++
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return providers.Identity{}, c.errs[c.calls-1]
	}
	return providers.Identity{Team: "Acme", User: "qrbot", BotID: "B1"}, nil
}

// sleepRecorder replaces real backoff waits.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total time.Duration
	for _, d := range r.delays {
		total += d
	}
	return total
}

func (r *sleepRecorder) option() retry.Option { return retry.WithSleep(r.sleep) }

func testPolicy(maxAttempts int) domain.RetryPolicy {
	return domain.RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: 2 * time.Second, Multiplier: 2, Policy: domain.BackoffExponential}
}

func testChannels() []domain.Channel {
	return []domain.Channel{
		{ID: "C00000000A", Name: "chan-A", IsMember: true, NumMembers: 3},
		{ID: "C00000000B", Name: "chan-B", IsMember: true, NumMembers: 5},
		{ID: "C00000000C", Name: "chan-C", IsMember: true, NumMembers: 2},
		{ID: "C00000000D", Name: "chan-D", IsMember: false, NumMembers: 9},
	}
}

func testArtifact() domain.Artifact {
	return domain.Artifact{Image: []byte("png"), Filename: "apk-qrcode-1.png", Title: "APK QR code", Caption: "caption"}
}

func refs(raw ...string) []domain.Reference {
	out := make([]domain.Reference, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.ParseReference(r))
	}
	return out
}
