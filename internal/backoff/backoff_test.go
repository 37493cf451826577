package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

func policy(name domain.BackoffPolicy, base, maxDelay time.Duration) domain.RetryPolicy {
	return domain.RetryPolicy{MaxAttempts: 5, BaseDelay: base, Multiplier: 2, MaxDelay: maxDelay, Policy: name}
}

func TestDelayFixed(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		maxDelay time.Duration
		attempt  int
		want     time.Duration
	}{
		{"base 5s", 5 * time.Second, 10 * time.Second, 1, 5 * time.Second},
		{"many attempts", 5 * time.Second, 10 * time.Second, 100, 5 * time.Second},
		{"base exceeds max", 20 * time.Second, 10 * time.Second, 1, 10 * time.Second},
		{"uncapped", 20 * time.Second, 0, 1, 20 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(policy(domain.BackoffFixed, tt.base, tt.maxDelay), tt.attempt, rand.New(rand.NewSource(42)))
			if got != tt.want {
				t.Errorf("Delay(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayLinear(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"attempt 1", 1, 5 * time.Second},
		{"attempt 2", 2, 10 * time.Second},
		{"attempt 3", 3, 15 * time.Second},
		{"capped", 10, 20 * time.Second},
		{"zero treated as first", 0, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(policy(domain.BackoffLinear, 5*time.Second, 20*time.Second), tt.attempt, nil)
			if got != tt.want {
				t.Errorf("Delay(linear) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayExponential(t *testing.T) {
	tests := []struct {
		name       string
		multiplier float64
		maxDelay   time.Duration
		attempt    int
		want       time.Duration
	}{
		{"first retry", 2, 0, 1, 2 * time.Second},
		{"second retry", 2, 0, 2, 4 * time.Second},
		{"third retry", 2, 0, 3, 8 * time.Second},
		{"capped at max", 2, 10 * time.Second, 4, 10 * time.Second},
		{"multiplier 3", 3, 0, 3, 18 * time.Second},
		{"multiplier below 1 clamps to constant", 0.5, 0, 4, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.RetryPolicy{MaxAttempts: 4, BaseDelay: 2 * time.Second, Multiplier: tt.multiplier, MaxDelay: tt.maxDelay, Policy: domain.BackoffExponential}
			got := Delay(p, tt.attempt, nil)
			if got != tt.want {
				t.Errorf("Delay(exponential) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayEmptyPolicyIsExponential(t *testing.T) {
	p := domain.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
	if got := Delay(p, 3, nil); got != 4*time.Second {
		t.Fatalf("Delay = %v, want 4s", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	tests := []struct {
		name    string
		policy  domain.BackoffPolicy
		attempt int
		wantMin time.Duration
		wantMax time.Duration
	}{
		{"equal jitter 1", domain.BackoffExpEqualJitter, 1, 1 * time.Second, 2 * time.Second},
		{"equal jitter 3", domain.BackoffExpEqualJitter, 3, 4 * time.Second, 8 * time.Second},
		{"full jitter 1", domain.BackoffExpFullJitter, 1, 0, 2 * time.Second},
		{"full jitter capped", domain.BackoffExpFullJitter, 10, 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			for i := 0; i < 50; i++ {
				got := Delay(policy(tt.policy, 2*time.Second, 30*time.Second), tt.attempt, rng)
				if got < tt.wantMin || got > tt.wantMax {
					t.Fatalf("Delay(%s) = %v, want between %v and %v", tt.policy, got, tt.wantMin, tt.wantMax)
				}
			}
		})
	}
}

func TestSchedule(t *testing.T) {
	p := domain.RetryPolicy{MaxAttempts: 4, BaseDelay: 2 * time.Second, Multiplier: 2, Policy: domain.BackoffExponential}
	got := Schedule(p)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("Schedule len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Schedule[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if s := Schedule(domain.RetryPolicy{MaxAttempts: 1}); len(s) != 0 {
		t.Fatalf("single attempt policy should have empty schedule, got %v", s)
	}
}
