package services

import (
	"context"
	"testing"
	"time"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

type deadlineTransport struct {
	calls int
}

func (d *deadlineTransport) UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error) {
	d.calls++
	if d.calls == 1 {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "F1", nil
}

func TestRetryingUploaderOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		script    []error
		policy    domain.RetryPolicy
		status    domain.OutcomeStatus
		attempts  int
		retriable bool
		kind      domain.FailureKind
		reason    string
	}{
		{"first try", nil, testPolicy(3), domain.OutcomeSuccess, 1, false, "", ""},
		{"terminal", []error{domain.Terminal("not_in_channel", nil)}, testPolicy(3), domain.OutcomeFailed, 1, false, domain.FailureTerminal, "not_in_channel"},
		{"transient then ok", []error{domain.Transient("ratelimited", nil), nil}, testPolicy(3), domain.OutcomeSuccess, 2, false, "", ""},
		{"exhausted", []error{domain.Transient("internal_error", nil)}, testPolicy(3), domain.OutcomeFailed, 3, true, domain.FailureRetryExhausted, "internal_error"},
		{"single attempt policy", []error{domain.Transient("internal_error", nil)}, testPolicy(1), domain.OutcomeFailed, 1, true, domain.FailureRetryExhausted, "internal_error"},
		{"terminal after transient", []error{domain.Transient("internal_error", nil), domain.Terminal("file_too_large", nil)}, testPolicy(5), domain.OutcomeFailed, 2, false, domain.FailureTerminal, "file_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newScriptedTransport(map[string][]error{"C00000000A": tt.script})
			u := NewRetryingUploader(tr, tt.policy, 0, nil, (&sleepRecorder{}).option())
			out := u.Upload(context.Background(), "C00000000A", testArtifact())

			if out.Status != tt.status || out.Attempts != tt.attempts || out.Retriable != tt.retriable || out.FailureKind != tt.kind || out.Error != tt.reason {
				t.Fatalf("outcome = %+v", out)
			}
			if out.ChannelID != "C00000000A" {
				t.Fatalf("channel id = %q", out.ChannelID)
			}
			if tr.Calls("C00000000A") != tt.attempts {
				t.Fatalf("calls = %d, want %d", tr.Calls("C00000000A"), tt.attempts)
			}
		})
	}
}

func TestRetryingUploaderAttemptTimeout(t *testing.T) {
	tr := &deadlineTransport{}
	u := NewRetryingUploader(tr, testPolicy(2), 20*time.Millisecond, nil, (&sleepRecorder{}).option())

	out := u.Upload(context.Background(), "C00000000A", testArtifact())
	if !out.Succeeded() || out.Attempts != 2 {
		t.Fatalf("a timed out attempt should be retried: %+v", out)
	}
}
