package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a per-route allowance: RequestsPerMinute refill rate and up to
// BurstSize requests at once.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perSecond() float64 {
	return float64(b.RequestsPerMinute) / 60.0
}

// Decision is the verdict for one request. Remaining is the number of whole
// requests left in the bucket after this one.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether subject may make one more request in scope.
// Scope is the route group ("generate_qr", "broadcast", ...); subject is the
// client IP.
type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// KeyPrefix namespaces bucket state in Redis. The metrics collector scans it.
const KeyPrefix = "qrbot:rl"

// TokenBucketLimiter keeps bucket state in Redis so every replica behind a
// load balancer enforces the same allowance. The refill arithmetic runs in a
// single script so concurrent replicas never interleave a read and a write.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, prefix: KeyPrefix, now: time.Now}
}

// KEYS[1] bucket hash; ARGV rate/ms, capacity, now ms, ttl ms.
// Returns {allowed, remaining, wait_ms}.
var takeToken = redis.NewScript(`
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local per_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * per_ms)
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
elseif per_ms > 0 then
  wait_ms = math.ceil((1 - tokens) / per_ms)
else
  wait_ms = 60000
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(tokens), wait_ms}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true, Remaining: bucket.BurstSize}, nil
	}
	key := bucketKey(l.prefix, scope, subject)
	args := []interface{}{
		bucket.perSecond() / 1000.0,
		bucket.BurstSize,
		l.now().UnixMilli(),
		stateTTL(bucket).Milliseconds(),
	}

	res, err := takeToken.Run(ctx, l.rdb, []string{key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", scope, res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}, nil
	}
	return Decision{RetryAfter: wholeSeconds(time.Duration(res[2]) * time.Millisecond)}, nil
}

// bucketKey is <prefix>:<scope>:<sha256(subject)>. Client addresses are
// hashed so they never sit in Redis in the clear.
func bucketKey(prefix, scope, subject string) string {
	scope, subject = normalizeKey(scope, subject)
	sum := sha256.Sum256([]byte(subject))
	return prefix + ":" + scope + ":" + hex.EncodeToString(sum[:])
}

func normalizeKey(scope, subject string) (string, string) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	return scope, subject
}

// stateTTL keeps an idle bucket around for two empty-to-full refills, within
// [30s, 1h].
func stateTTL(b Bucket) time.Duration {
	const (
		floor   = 30 * time.Second
		ceiling = time.Hour
	)
	if !b.Enabled() {
		return 2 * time.Minute
	}
	fill := time.Duration(float64(b.BurstSize) / b.perSecond() * float64(time.Second))
	ttl := 2*fill + 5*time.Second
	switch {
	case ttl < floor:
		return floor
	case ttl > ceiling:
		return ceiling
	}
	return ttl
}

// wholeSeconds rounds a wait up to the whole seconds Retry-After can carry,
// never below one.
func wholeSeconds(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
