package metrics

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osvaldoandrade/qrbot/internal/ratelimit"
)

var rateLimitKeyPattern = ratelimit.KeyPrefix + ":*"

// rateLimitCollector reports how many client buckets are live in the shared
// Redis rate-limit store, per route scope.
type rateLimitCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	activeDesc *prometheus.Desc
}

func newRateLimitCollector(rdb *redis.Client, logger *slog.Logger) *rateLimitCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &rateLimitCollector{
		rdb:    rdb,
		logger: logger,
		activeDesc: prometheus.NewDesc(
			"qrbot_rate_limit_active_buckets",
			"Current number of client rate-limit buckets held in Redis, by scope.",
			[]string{"scope"},
			nil,
		),
	}
}

func (c *rateLimitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeDesc
}

func (c *rateLimitCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := countBuckets(ctx, c.rdb)
	if err != nil {
		c.logger.Warn("prometheus rate limit collector failed", "err", err)
		return
	}
	for scope, n := range counts {
		emitGauge(ch, c.activeDesc, float64(n), scope)
	}
}

func countBuckets(ctx context.Context, rdb *redis.Client) (map[string]int, error) {
	counts := map[string]int{}
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, rateLimitKeyPattern, 500).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			// qrbot:rl:<scope>:<subject-hash>
			parts := strings.SplitN(k, ":", 4)
			if len(parts) != 4 {
				continue
			}
			counts[parts[2]]++
		}
		if next == 0 {
			return counts, nil
		}
		cursor = next
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRateLimitCollectorOnce sync.Once

func RegisterRateLimitCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRateLimitCollectorOnce.Do(func() {
		prometheus.MustRegister(newRateLimitCollector(rdb, logger))
	})
}
