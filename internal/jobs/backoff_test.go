package jobs

import (
	"testing"
	"time"
)

func TestBackoffDelayFixed(t *testing.T) {
	opts := Options{Backoff: BackoffFixed, BackoffDelay: 2 * time.Second}

	for failures := 1; failures <= 5; failures++ {
		if got := backoffDelay(opts, failures); got != 2*time.Second {
			t.Errorf("fixed backoff after %d failures = %v, want 2s", failures, got)
		}
	}
}

func TestBackoffDelayExponential(t *testing.T) {
	opts := Options{Backoff: BackoffExponential, BackoffDelay: time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := backoffDelay(opts, i+1); got != w {
			t.Errorf("exponential backoff after %d failures = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	opts := Options{Backoff: BackoffExponential, BackoffDelay: time.Minute}

	if got := backoffDelay(opts, 20); got != maxBackoff {
		t.Fatalf("backoff after 20 failures = %v, want cap %v", got, maxBackoff)
	}
}

func TestBackoffDelayDefaults(t *testing.T) {
	if got := backoffDelay(Options{}, 1); got != 5*time.Second {
		t.Fatalf("default backoff = %v, want 5s", got)
	}
	if got := backoffDelay(Options{BackoffDelay: time.Second}, 0); got != time.Second {
		t.Fatalf("backoff with zero failures = %v, want base delay", got)
	}
}
