package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/qrbot/internal/ratelimit"
	"github.com/osvaldoandrade/qrbot/internal/tracing"
	"github.com/osvaldoandrade/qrbot/pkg/auth"
	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

const (
	TransportSlack = "slack"
	TransportLocal = "local"
)

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	SlackBotToken      string `yaml:"slackBotToken"`
	SlackSigningSecret string `yaml:"slackSigningSecret"`
	SlackAPIURL        string `yaml:"slackAPIURL"`

	APIKey        string         `yaml:"apiKey"`
	AuthProviders []AuthProvider `yaml:"authProviders"`

	RateLimitEnabled *bool           `yaml:"rateLimitEnabled"`
	RateLimit        RateLimitConfig `yaml:"rateLimit"`
	RedisAddr        string          `yaml:"redisAddr"`
	RedisPassword    string          `yaml:"redisPassword"`

	Transport      string         `yaml:"transport"`
	LocalOutputDir string         `yaml:"localOutputDir"`
	LocalChannels  []LocalChannel `yaml:"localChannels"`

	Retry                RetryConfig `yaml:"retry"`
	BroadcastConcurrency int         `yaml:"broadcastConcurrency"`
	UploadTimeoutSeconds int         `yaml:"uploadTimeoutSeconds"`
	UploadRatePerSecond  float64     `yaml:"uploadRatePerSecond"`

	Tracing TracingConfig `yaml:"tracing"`
}

// AuthProvider is one extra credential validator. Config is provider
// specific and handed to the auth registry as JSON.
type AuthProvider struct {
	Type   string `yaml:"type"`
	Config any    `yaml:"config"`
}

// RateLimitConfig holds one bucket per route group.
type RateLimitConfig struct {
	Default      ratelimit.Bucket `yaml:"default"`
	GenerateQR   ratelimit.Bucket `yaml:"generateQr"`
	Custom       ratelimit.Bucket `yaml:"custom"`
	Broadcast    ratelimit.Bucket `yaml:"broadcast"`
	BroadcastAll ratelimit.Bucket `yaml:"broadcastAll"`
}

type RetryConfig struct {
	MaxAttempts     int     `yaml:"maxAttempts"`
	BaseDelayMillis int     `yaml:"baseDelayMillis"`
	Multiplier      float64 `yaml:"multiplier"`
	MaxDelayMillis  int     `yaml:"maxDelayMillis"`
	Policy          string  `yaml:"policy"`
}

type LocalChannel struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	IsPrivate  bool   `yaml:"isPrivate"`
	IsMember   *bool  `yaml:"isMember"`
	NumMembers int    `yaml:"numMembers"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional is LoadConfig for deployments configured purely through
// the environment: an empty path or a missing file is not an error.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		c, err := LoadConfig(filePath)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("QRBOT_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.SlackBotToken = v
	}
	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		c.SlackSigningSecret = v
	}
	if v := os.Getenv("SLACK_API_URL"); v != "" {
		c.SlackAPIURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RateLimitEnabled = &b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("QRBOT_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("LOCAL_OUTPUT_DIR"); v != "" {
		c.LocalOutputDir = v
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("RETRY_BASE_DELAY_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.BaseDelayMillis = n
		}
	}
	if v := os.Getenv("RETRY_POLICY"); v != "" {
		c.Retry.Policy = v
	}
	if v := os.Getenv("BROADCAST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BroadcastConcurrency = n
		}
	}
	if v := os.Getenv("UPLOAD_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.UploadTimeoutSeconds = n
		}
	}
	if v := os.Getenv("UPLOAD_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.UploadRatePerSecond = f
		}
	}
	if v := os.Getenv("OTEL_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		}
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		c.Tracing.SampleRatio = tracing.ParseSampleRatio(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Transport == "" {
		c.Transport = TransportSlack
	}
	if c.LocalOutputDir == "" {
		c.LocalOutputDir = "/tmp/qrbot-deliveries"
	}
	if c.RateLimitEnabled == nil {
		enabled := true
		c.RateLimitEnabled = &enabled
	}
	defaultBucket(&c.RateLimit.Default, 10)
	defaultBucket(&c.RateLimit.GenerateQR, 20)
	defaultBucket(&c.RateLimit.Custom, 20)
	defaultBucket(&c.RateLimit.Broadcast, 10)
	defaultBucket(&c.RateLimit.BroadcastAll, 5)

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMillis == 0 {
		c.Retry.BaseDelayMillis = 2000
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.MaxDelayMillis == 0 {
		c.Retry.MaxDelayMillis = 10000
	}
	if c.Retry.Policy == "" {
		c.Retry.Policy = string(domain.BackoffExponential)
	}
	if c.BroadcastConcurrency == 0 {
		c.BroadcastConcurrency = 5
	}
	if c.UploadTimeoutSeconds == 0 {
		c.UploadTimeoutSeconds = 30
	}
	if c.UploadRatePerSecond == 0 {
		c.UploadRatePerSecond = 5
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "qrbot"
	}

	if strings.TrimSpace(c.APIKey) == "" && len(c.AuthProviders) == 0 {
		log.Println("Warning: apiKey not set, generate-qr endpoints are unauthenticated (dev only)")
	}
}

func defaultBucket(b *ratelimit.Bucket, perMinute int) {
	if b.RequestsPerMinute == 0 {
		b.RequestsPerMinute = perMinute
	}
	if b.BurstSize == 0 {
		b.BurstSize = b.RequestsPerMinute
	}
}

func (c *Config) RateLimitOn() bool {
	return c.RateLimitEnabled == nil || *c.RateLimitEnabled
}

// RetryPolicy is the process-wide policy shared by every upload, listing
// fetch and health check.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMillis) * time.Millisecond,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    time.Duration(c.Retry.MaxDelayMillis) * time.Millisecond,
		Policy:      domain.BackoffPolicy(c.Retry.Policy),
	}
}

func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:      c.Tracing.Enabled,
		ServiceName:  c.Tracing.ServiceName,
		Environment:  c.Env,
		OTLPEndpoint: c.Tracing.OTLPEndpoint,
		OTLPInsecure: c.Tracing.OTLPInsecure,
		SampleRatio:  c.Tracing.SampleRatio,
	}
}

// Channels is the static listing served by the local transport. Channels are
// members unless isMember is set to false.
func (c *Config) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(c.LocalChannels))
	for _, lc := range c.LocalChannels {
		member := lc.IsMember == nil || *lc.IsMember
		out = append(out, domain.Channel{
			ID:         strings.TrimSpace(lc.ID),
			Name:       strings.TrimLeft(strings.TrimSpace(lc.Name), "#"),
			IsPrivate:  lc.IsPrivate,
			IsMember:   member,
			NumMembers: lc.NumMembers,
		})
	}
	return out
}

// ProviderConfigs converts AuthProviders into registry entries.
func (c *Config) ProviderConfigs() ([]auth.ProviderConfig, error) {
	out := make([]auth.ProviderConfig, 0, len(c.AuthProviders))
	for i, p := range c.AuthProviders {
		raw, err := json.Marshal(p.Config)
		if err != nil {
			return nil, fmt.Errorf("authProviders[%d]: %w", i, err)
		}
		out = append(out, auth.ProviderConfig{Type: strings.TrimSpace(p.Type), Config: raw})
	}
	return out, nil
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logLevel must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}

	switch c.Transport {
	case TransportSlack:
		if strings.TrimSpace(c.SlackBotToken) == "" {
			errs = append(errs, "slackBotToken is required when transport is slack")
		}
	case TransportLocal:
		if !dev {
			errs = append(errs, "transport local is only allowed in dev")
		}
		for i, ch := range c.LocalChannels {
			if strings.TrimSpace(ch.ID) == "" || strings.TrimSpace(ch.Name) == "" {
				errs = append(errs, fmt.Sprintf("localChannels[%d] needs id and name", i))
			}
		}
	default:
		errs = append(errs, "transport must be slack or local")
	}
	if c.SlackAPIURL != "" {
		u, err := url.Parse(c.SlackAPIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "slackAPIURL must be a valid http(s) URL")
		}
	}

	if !dev && strings.TrimSpace(c.APIKey) == "" && len(c.AuthProviders) == 0 {
		errs = append(errs, "apiKey or authProviders is required in non-dev")
	}
	for i, p := range c.AuthProviders {
		if strings.TrimSpace(p.Type) == "" {
			errs = append(errs, fmt.Sprintf("authProviders[%d].type is required", i))
		}
	}

	buckets := map[string]ratelimit.Bucket{
		"default":      c.RateLimit.Default,
		"generateQr":   c.RateLimit.GenerateQR,
		"custom":       c.RateLimit.Custom,
		"broadcast":    c.RateLimit.Broadcast,
		"broadcastAll": c.RateLimit.BroadcastAll,
	}
	for _, name := range []string{"default", "generateQr", "custom", "broadcast", "broadcastAll"} {
		b := buckets[name]
		if b.RequestsPerMinute < 0 || b.BurstSize < 0 {
			errs = append(errs, fmt.Sprintf("rateLimit.%s must not be negative", name))
		}
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, "retry.maxAttempts must be between 1 and 10")
	}
	if c.Retry.BaseDelayMillis < 0 || c.Retry.MaxDelayMillis < 0 {
		errs = append(errs, "retry delays must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be >= 1")
	}
	switch domain.BackoffPolicy(c.Retry.Policy) {
	case domain.BackoffFixed, domain.BackoffLinear, domain.BackoffExponential, domain.BackoffExpEqualJitter, domain.BackoffExpFullJitter:
	default:
		errs = append(errs, "retry.policy must be fixed, linear, exponential, exp_equal_jitter or exp_full_jitter")
	}

	if c.BroadcastConcurrency < 1 || c.BroadcastConcurrency > 50 {
		errs = append(errs, "broadcastConcurrency must be between 1 and 50")
	}
	if c.UploadTimeoutSeconds < 1 {
		errs = append(errs, "uploadTimeoutSeconds must be positive")
	}
	if c.UploadRatePerSecond < 0 {
		errs = append(errs, "uploadRatePerSecond must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
