package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// Delay returns how long to wait after the given failed attempt (1-based)
// before the next one. For the exponential policy that is
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay when set.
func Delay(p domain.RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	p = p.Normalize()
	if attempt < 1 {
		attempt = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch p.Policy {
	case domain.BackoffFixed:
		return capDelay(p.BaseDelay, p.MaxDelay)
	case domain.BackoffLinear:
		return capDelay(p.BaseDelay*time.Duration(attempt), p.MaxDelay)
	case domain.BackoffExpEqualJitter:
		d := exponential(p, attempt)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	case domain.BackoffExpFullJitter:
		d := exponential(p, attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	default:
		return exponential(p, attempt)
	}
}

// Schedule lists the waits between consecutive attempts of a policy that
// never succeeds: MaxAttempts-1 entries.
func Schedule(p domain.RetryPolicy) []time.Duration {
	p = p.Normalize()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	rng := rand.New(rand.NewSource(1))
	for k := 1; k < p.MaxAttempts; k++ {
		out = append(out, Delay(p, k, rng))
	}
	return out
}

func exponential(p domain.RetryPolicy, attempt int) time.Duration {
	f := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(f, 0) || f > float64(math.MaxInt64) {
		f = float64(math.MaxInt64)
	}
	return capDelay(time.Duration(f), p.MaxDelay)
}

func capDelay(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
