package transport

import (
	"context"
	"testing"
	"time"
)

func TestExponentialBackoffRetryPolicy_GetDelay(t *testing.T) {
	p := &ExponentialBackoffRetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}

	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		5: time.Second,
		50: time.Second,
	}
	for attempt, want := range cases {
		if got := p.GetDelay(attempt); got != want {
			t.Errorf("GetDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestExponentialBackoffRetryPolicy_ShouldRetry(t *testing.T) {
	unlimited := DefaultRetryPolicy()
	if !unlimited.ShouldRetry(1000) {
		t.Error("unlimited policy should always retry")
	}

	limited := &ExponentialBackoffRetryPolicy{MaxAttempts: 3}
	if !limited.ShouldRetry(2) {
		t.Error("attempt 2 of 3 should be retried")
	}
	if limited.ShouldRetry(3) {
		t.Error("attempt 3 of 3 should not be retried")
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := SleepContext(ctx, time.Hour); err == nil {
		t.Error("expected context error")
	}
}

func TestMessage_Header(t *testing.T) {
	var msg Message
	if msg.Header("x") != "" {
		t.Error("nil headers should yield empty value")
	}
	msg.Headers = map[string]string{HeaderEventID: "abc"}
	if msg.Header(HeaderEventID) != "abc" {
		t.Error("header not returned")
	}
}
