package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/osvaldoandrade/qrbot/internal/metrics"
	"github.com/osvaldoandrade/qrbot/internal/ratelimit"
	"github.com/osvaldoandrade/qrbot/pkg/config"
)

// mockLimiter implements ratelimit.Limiter for testing
type mockLimiter struct {
	decision ratelimit.Decision
	err      error

	calls   int
	scope   string
	subject string
}

func (m *mockLimiter) Allow(ctx context.Context, scope string, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	m.calls++
	m.scope = scope
	m.subject = subject
	return m.decision, m.err
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			Default:      ratelimit.Bucket{RequestsPerMinute: 10, BurstSize: 10},
			GenerateQR:   ratelimit.Bucket{RequestsPerMinute: 20, BurstSize: 20},
			Custom:       ratelimit.Bucket{RequestsPerMinute: 20, BurstSize: 20},
			Broadcast:    ratelimit.Bucket{RequestsPerMinute: 10, BurstSize: 10},
			BroadcastAll: ratelimit.Bucket{RequestsPerMinute: 5, BurstSize: 5},
		},
	}
}

func newTestContext(method, path string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(method, path, nil)
	ctx.Request.RemoteAddr = "203.0.113.7:51234"
	return ctx, rec
}

func TestRateLimit_DisabledBucket(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.GenerateQR = ratelimit.Bucket{}
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}}

	ctx, _ := newTestContext(http.MethodPost, "/generate-qr")
	RateLimitGenerateQR(limiter, cfg)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through for disabled bucket")
	}
	if limiter.calls != 0 {
		t.Fatalf("limiter should not be consulted, got %d calls", limiter.calls)
	}
}

func TestRateLimit_GloballyDisabled(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.RateLimitEnabled = &off
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}}

	ctx, _ := newTestContext(http.MethodPost, "/generate-qr/broadcast")
	RateLimitBroadcast(limiter, cfg)(ctx)

	if ctx.IsAborted() || limiter.calls != 0 {
		t.Fatalf("aborted=%v calls=%d, want pass through", ctx.IsAborted(), limiter.calls)
	}
}

func TestRateLimit_AllowedKeysOnClientIP(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 7}}
	cfg := testConfig()

	ctx, rec := newTestContext(http.MethodPost, "/generate-qr/custom")
	RateLimitCustom(limiter, cfg)(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when rate limit allows")
	}
	if limiter.scope != ScopeCustom || limiter.subject != "203.0.113.7" {
		t.Fatalf("scope=%q subject=%q", limiter.scope, limiter.subject)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "7" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 7", got)
	}
	if got, want := rec.Header().Get("X-RateLimit-Limit"), strconv.Itoa(cfg.RateLimit.Custom.RequestsPerMinute); got != want {
		t.Fatalf("X-RateLimit-Limit = %q, want %q", got, want)
	}
}

func TestRateLimit_DeniedDecision(t *testing.T) {
	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false, RetryAfter: 5 * time.Second},
	}
	before := testutil.ToFloat64(metrics.RateLimitHitsTotal.WithLabelValues(ScopeBroadcastAll))

	ctx, rec := newTestContext(http.MethodPost, "/generate-qr/broadcast-all")
	RateLimitBroadcastAll(limiter, testConfig())(ctx)

	if !ctx.IsAborted() {
		t.Fatal("expected request to be aborted when rate limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After: 5, got %s", got)
	}

	var body struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal JSON response: %v", err)
	}
	if body.Code != 429 || body.Message != "Rate limit exceeded" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if body.Data["scope"] != ScopeBroadcastAll || body.Data["retryAfterSeconds"] != float64(5) {
		t.Fatalf("unexpected data: %v", body.Data)
	}

	after := testutil.ToFloat64(metrics.RateLimitHitsTotal.WithLabelValues(ScopeBroadcastAll))
	if after-before != 1 {
		t.Fatalf("rate limit hits delta = %v, want 1", after-before)
	}
}

func TestRateLimit_LimiterErrorFailsOpen(t *testing.T) {
	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false},
		err:      context.DeadlineExceeded,
	}

	ctx, _ := newTestContext(http.MethodPost, "/generate-qr")
	RateLimitGenerateQR(limiter, testConfig())(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when limiter returns error (fail open)")
	}
}

func TestRateLimit_NilLimiter(t *testing.T) {
	ctx, _ := newTestContext(http.MethodGet, "/channels")
	RateLimitDefault(nil, testConfig())(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through with nil limiter")
	}
}

func TestRateLimit_DeniedWithRetryAfterLessThanOne(t *testing.T) {
	limiter := &mockLimiter{
		decision: ratelimit.Decision{Allowed: false, RetryAfter: 500 * time.Millisecond},
	}

	ctx, rec := newTestContext(http.MethodGet, "/channels")
	RateLimitDefault(limiter, testConfig())(ctx)

	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After: 1 (minimum), got %s", got)
	}
}

func TestRateLimit_LocalLimiterEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/generate-qr", RateLimit(ratelimit.NewLocalLimiter(), ScopeGenerateQR, ratelimit.Bucket{RequestsPerMinute: 2, BurstSize: 2}),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/generate-qr", nil)
		req.RemoteAddr = "198.51.100.1:1000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/generate-qr", nil)
	req.RemoteAddr = "198.51.100.2:1000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("second client status = %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "valid bearer token", header: "Bearer abc123", want: "abc123"},
		{name: "valid with extra spaces", header: "  Bearer   def456  ", want: "def456"},
		{name: "case insensitive bearer", header: "bearer xyz789", want: "xyz789"},
		{name: "empty header", header: "", want: ""},
		{name: "missing token", header: "Bearer", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "no scheme", header: "justtoken", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bearerToken(tt.header)
			if got != tt.want {
				t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
