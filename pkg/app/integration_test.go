package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/qrbot/internal/ratelimit"
	"github.com/osvaldoandrade/qrbot/pkg/config"
)

const testKey = "integration-key"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...ApplicationOption) (*httptest.Server, string) {
	t.Helper()
	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	out := t.TempDir()
	locked := false
	cfg.Env = "dev"
	cfg.LogLevel = "error"
	cfg.Transport = config.TransportLocal
	cfg.LocalOutputDir = out
	cfg.APIKey = testKey
	cfg.UploadRatePerSecond = 1000
	cfg.LocalChannels = []config.LocalChannel{
		{ID: "C0000000001", Name: "general", NumMembers: 12},
		{ID: "C0000000002", Name: "builds", IsPrivate: true, NumMembers: 3},
		{ID: "X0000000003", Name: "locked", IsMember: &locked},
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}

	application, err := NewApplication(cfg, opts...)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { _ = application.Close(context.Background()) })
	SetupMappings(application)

	srv := httptest.NewServer(application.Engine)
	t.Cleanup(srv.Close)
	return srv, out
}

func call(t *testing.T, method, url, key string, body any) (*http.Response, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, rdr)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp, env
}

func TestHTTPIntegrationFlow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	srv, out := newTestServer(t, nil, WithRedisClient(rdb))

	// health
	resp, env := call(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || env.Message != "Service is healthy" {
		t.Fatalf("health: %d %+v", resp.StatusCode, env)
	}

	// channels lists members only
	resp, env = call(t, http.MethodGet, srv.URL+"/channels", "", nil)
	var channels struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(env.Data, &channels)
	if resp.StatusCode != http.StatusOK || channels.Count != 2 {
		t.Fatalf("channels: %d %s", resp.StatusCode, env.Data)
	}

	// auth
	single := map[string]any{"apk_url": "https://example.com/app.apk", "channel": "#general", "build_number": 42}
	if resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr", "", single); resp.StatusCode != http.StatusUnauthorized || env.Message != "API key required" {
		t.Fatalf("missing key: %d %+v", resp.StatusCode, env)
	}
	if resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr", "wrong", single); resp.StatusCode != http.StatusForbidden || env.Message != "Invalid API key" {
		t.Fatalf("wrong key: %d %+v", resp.StatusCode, env)
	}

	// single delivery lands on disk
	resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr", testKey, single)
	var result struct {
		FileID    string `json:"file_id"`
		ChannelID string `json:"channel_id"`
		Attempts  int    `json:"attempts"`
	}
	_ = json.Unmarshal(env.Data, &result)
	if resp.StatusCode != http.StatusOK || env.Message != "QR code sent to Slack" || result.ChannelID != "C0000000001" || result.Attempts != 1 {
		t.Fatalf("generate-qr: %d %+v", resp.StatusCode, env)
	}
	png := filepath.Join(out, "C0000000001", result.FileID+"-apk-qrcode-42.png")
	if _, err := os.Stat(png); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}

	// unknown channel
	single["channel"] = "#nope"
	if resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr", testKey, single); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown channel: %d %+v", resp.StatusCode, env)
	}

	// custom with bad options
	custom := map[string]any{"apk_url": "https://example.com/app.apk", "channel": "#builds", "qr_options": map[string]any{"box_size": 99}}
	if resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr/custom", testKey, custom); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("custom validation: %d %+v", resp.StatusCode, env)
	}

	// broadcast keeps order and isolates failures
	bc := map[string]any{"apk_url": "https://example.com/app.apk", "channels": []string{"#general", "#nope", "#locked", "C0000000002"}}
	resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast", testKey, bc)
	var summary struct {
		Total   int `json:"total_count"`
		Success int `json:"success_count"`
		Results []struct {
			Channel     string `json:"channel"`
			Status      string `json:"status"`
			Error       string `json:"error"`
			FailureKind string `json:"failure_kind"`
		} `json:"results"`
	}
	_ = json.Unmarshal(env.Data, &summary)
	if resp.StatusCode != http.StatusOK || summary.Total != 4 || summary.Success != 2 || env.Message != "Sent to 2/4 destinations" {
		t.Fatalf("broadcast: %d %+v", resp.StatusCode, env)
	}
	wantOrder := []string{"#general", "#nope", "#locked", "C0000000002"}
	for i, r := range summary.Results {
		if r.Channel != wantOrder[i] {
			t.Fatalf("result %d channel = %q, want %q", i, r.Channel, wantOrder[i])
		}
	}
	if summary.Results[1].FailureKind != "resolution" || summary.Results[2].Error != "not_in_channel" || summary.Results[2].FailureKind != "terminal" {
		t.Fatalf("unexpected failures: %+v", summary.Results)
	}

	// broadcast-all covers member channels
	resp, env = call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast-all", testKey, map[string]any{"apk_url": "https://example.com/app.apk"})
	var sweep struct {
		TotalChannels int `json:"total_channels"`
		Success       int `json:"success_count"`
	}
	_ = json.Unmarshal(env.Data, &sweep)
	if resp.StatusCode != http.StatusOK || sweep.TotalChannels != 2 || sweep.Success != 2 {
		t.Fatalf("broadcast-all: %d %+v", resp.StatusCode, env)
	}

	// slack url verification
	r, err := http.Post(srv.URL+"/slack/events", "application/json", strings.NewReader(`{"type":"url_verification","challenge":"c-1"}`))
	if err != nil {
		t.Fatalf("slack events: %v", err)
	}
	b, _ := io.ReadAll(r.Body)
	r.Body.Close()
	if r.StatusCode != http.StatusOK || !strings.Contains(string(b), `"challenge":"c-1"`) {
		t.Fatalf("url verification: %d %s", r.StatusCode, b)
	}

	// metrics exposition
	r, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	b, _ = io.ReadAll(r.Body)
	r.Body.Close()
	for _, name := range []string{"qrbot_deliveries_total", "qrbot_upload_attempts_total", "qrbot_rate_limit_active_buckets"} {
		if !strings.Contains(string(b), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func TestRateLimitedRoute(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimit.BroadcastAll = ratelimit.Bucket{RequestsPerMinute: 1, BurstSize: 1}
	})

	body := map[string]any{"apk_url": "https://example.com/app.apk"}
	if resp, env := call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast-all", testKey, body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first call: %d %+v", resp.StatusCode, env)
	}
	resp, env := call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast-all", testKey, body)
	if resp.StatusCode != http.StatusTooManyRequests || env.Code != 429 {
		t.Fatalf("second call: %d %+v", resp.StatusCode, env)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestRateLimitAppliesBeforeAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimit.BroadcastAll = ratelimit.Bucket{RequestsPerMinute: 1, BurstSize: 1}
	})

	body := map[string]any{"apk_url": "https://example.com/app.apk"}
	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		resp, _ := call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast-all", "guess-"+strconv.Itoa(i), body)
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusForbidden {
		t.Fatalf("first wrong key: status = %d, want 403 (codes %v)", codes[0], codes)
	}
	for i, code := range codes[1:] {
		if code != http.StatusTooManyRequests {
			t.Fatalf("wrong key %d: status = %d, want 429 (codes %v)", i+2, code, codes)
		}
	}

	// The bucket is per client, not per key: a valid key is throttled too.
	if resp, env := call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast-all", testKey, body); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("valid key after exhaustion: %d %+v", resp.StatusCode, env)
	}
}

func TestBroadcastAllWithoutMembers(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.LocalChannels = nil })

	resp, env := call(t, http.MethodPost, srv.URL+"/generate-qr/broadcast-all", testKey, map[string]any{"apk_url": "https://example.com/app.apk"})
	if resp.StatusCode != http.StatusBadRequest || env.Message != "Bot is not a member of any channels" {
		t.Fatalf("broadcast-all: %d %+v", resp.StatusCode, env)
	}
}
