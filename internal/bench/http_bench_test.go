package bench

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/providers"
	"github.com/osvaldoandrade/qrbot/internal/render"
	"github.com/osvaldoandrade/qrbot/internal/services"
	"github.com/osvaldoandrade/qrbot/pkg/app"
	"github.com/osvaldoandrade/qrbot/pkg/config"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

const (
	benchAPIKey   = "bench-api-key"
	benchChannels = 10
)

// memPlatform accepts every upload without I/O so the benchmarks measure the
// service, not the disk or network.
type memPlatform struct {
	channels []domain.Channel
	uploads  atomic.Int64
}

func newMemPlatform(n int) *memPlatform {
	p := &memPlatform{}
	for i := 0; i < n; i++ {
		p.channels = append(p.channels, domain.Channel{
			ID:       fmt.Sprintf("C%010d", i),
			Name:     fmt.Sprintf("bench-%d", i),
			IsMember: true,
		})
	}
	return p
}

func (p *memPlatform) UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error) {
	return fmt.Sprintf("F%d", p.uploads.Add(1)), nil
}

func (p *memPlatform) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return p.channels, nil
}

func (p *memPlatform) AuthTest(ctx context.Context) (providers.Identity, error) {
	return providers.Identity{Team: "bench", User: "qrbot"}, nil
}

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	off := false
	cfg := &config.Config{
		Env:                  "dev",
		LogLevel:             "error",
		LogFormat:            "json",
		Transport:            config.TransportSlack,
		APIKey:               benchAPIKey,
		RedisAddr:            mr.Addr(),
		BroadcastConcurrency: 5,
		UploadTimeoutSeconds: 5,
		// Benchmarks keep rate limiting and upload pacing disabled.
		RateLimitEnabled: &off,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			BaseDelayMillis: 1,
			Multiplier:      2,
			MaxDelayMillis:  10,
			Policy:          string(domain.BackoffExponential),
		},
	}

	a, err := app.NewApplication(cfg, app.WithPlatform(newMemPlatform(benchChannels)))
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func doJSONRequest(b *testing.B, h http.Handler, method, path string, body []byte) (int, []byte) {
	b.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-API-Key", benchAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func BenchmarkHTTP_BroadcastAll(b *testing.B) {
	a := newBenchApp(b)
	body := []byte(`{"apk_url":"https://ci.example.com/app.apk","build_number":"1"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/generate-qr/broadcast-all", body)
		if status != http.StatusOK {
			b.Fatalf("broadcast-all status %d body=%s", status, string(resp))
		}
	}
}

func BenchmarkHTTP_BroadcastByName(b *testing.B) {
	a := newBenchApp(b)
	body := []byte(`{"apk_url":"https://ci.example.com/app.apk","channels":["#bench-0","#bench-3","#bench-7","#missing"]}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		status, resp := doJSONRequest(b, a.Engine, http.MethodPost, "/generate-qr/broadcast", body)
		if status != http.StatusOK {
			b.Fatalf("broadcast status %d body=%s", status, string(resp))
		}
	}
}

// BenchmarkDeliver skips rendering and HTTP and measures only the fan-out.
func BenchmarkDeliver(b *testing.B) {
	a := newBenchApp(b)
	art, err := render.Artifact(domain.ArtifactRequest{SourceURL: "https://ci.example.com/app.apk"})
	if err != nil {
		b.Fatalf("render: %v", err)
	}
	refs := make([]domain.Reference, 0, benchChannels)
	for i := 0; i < benchChannels; i++ {
		refs = append(refs, domain.ParseReference(fmt.Sprintf("C%010d", i)))
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		summary := a.Broadcast.Deliver(ctx, art, refs, services.ModeBroadcast)
		if summary.SuccessCount != benchChannels {
			b.Fatalf("delivered %d/%d", summary.SuccessCount, summary.TotalCount)
		}
	}
}

func BenchmarkRenderArtifact(b *testing.B) {
	req := domain.ArtifactRequest{SourceURL: "https://ci.example.com/app.apk", BuildNumber: "42"}
	for i := 0; i < b.N; i++ {
		if _, err := render.Artifact(req); err != nil {
			b.Fatal(err)
		}
	}
}
