package model

import "testing"

func TestJob_Eligible(t *testing.T) {
	cases := []struct {
		name       string
		status     Status
		retryCount int
		maxRetries int
		want       bool
	}{
		{"pending", StatusPending, 0, 3, true},
		{"interrupted", StatusInterrupted, 0, 3, true},
		{"running", StatusRunning, 0, 3, false},
		{"completed", StatusCompleted, 0, 3, false},
		{"failed below ceiling", StatusFailed, 1, 2, true},
		{"failed at ceiling", StatusFailed, 2, 2, true},
		{"failed past ceiling", StatusFailed, 3, 2, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			j := Job{Status: c.status, RetryCount: c.retryCount}
			if got := j.Eligible(c.maxRetries); got != c.want {
				t.Errorf("Eligible() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestJob_CompletionPercentage(t *testing.T) {
	cases := []struct {
		name             string
		bytesTransferred int64
		bytesTotal       int64
		want             float64
	}{
		{"zero total", 0, 0, 0},
		{"half", 50, 100, 50},
		{"complete", 100, 100, 100},
		{"clamped over total", 150, 100, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			j := Job{BytesTransferred: c.bytesTransferred, BytesTotal: c.bytesTotal}
			if got := j.CompletionPercentage(); got != c.want {
				t.Errorf("CompletionPercentage() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	if !StatusCompleted.Terminal() {
		t.Error("COMPLETED should be terminal")
	}
	for _, s := range []Status{StatusPending, StatusRunning, StatusInterrupted, StatusFailed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCredentialBundle_Complete(t *testing.T) {
	complete := CredentialBundle{
		ApplicationKeyID:   "id",
		ApplicationKey:     "key",
		BucketName:         "bucket",
		EncryptionPassword: "pw",
	}
	if !complete.Complete() {
		t.Error("expected complete bundle to report Complete() == true")
	}

	incomplete := complete
	incomplete.EncryptionPassword = ""
	if incomplete.Complete() {
		t.Error("expected incomplete bundle to report Complete() == false")
	}
}
