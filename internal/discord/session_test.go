package discord

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/sonichunter/internal/discord/mock"
)

var fastBackoff = backoff{base: time.Millisecond, max: 4 * time.Millisecond}

func TestRetry(t *testing.T) {
	t.Parallel()

	errOther := errors.New("boom")
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "success", errs: []error{nil}, wantCalls: 1},
		{name: "rate limited then ok", errs: []error{mock.RateLimitError(), mock.RateLimitError(), nil}, wantCalls: 3},
		{name: "other error not retried", errs: []error{errOther}, wantCalls: 1, wantErr: errOther},
		{
			name:      "gives up after max retries",
			errs:      []error{mock.RateLimitError(), mock.RateLimitError(), mock.RateLimitError(), mock.RateLimitError(), nil},
			wantCalls: maxRetries + 1,
		},
		{
			name:      "wrapped rate limit",
			errs:      []error{fmt.Errorf("send: %w", mock.RateLimitError()), nil},
			wantCalls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			err := fastBackoff.retry(context.Background(), "test", func() error {
				e := tt.errs[calls]
				calls++
				return e
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			switch {
			case tt.name == "gives up after max retries":
				if !isRateLimited(err) {
					t.Errorf("err = %v, want rate limit error", err)
				}
			case !errors.Is(err, tt.wantErr):
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	slow := backoff{base: time.Hour, max: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- slow.retry(ctx, "test", func() error {
			calls++
			return mock.RateLimitError()
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry ignored cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_DeadlineShorterThanWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	slow := backoff{base: time.Hour, max: time.Hour}
	calls := 0
	start := time.Now()
	err := slow.retry(ctx, "test", func() error {
		calls++
		return mock.RateLimitError()
	})
	if !isRateLimited(err) {
		t.Errorf("err = %v, want the rate limit error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry waited although the deadline could not be met")
	}
}

func TestNewSession(t *testing.T) {
	t.Parallel()

	if _, err := NewSession("", FinderIntents); err == nil {
		t.Error("empty token accepted")
	}
	s, err := NewSession("abc", SpiderIntents)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.Token != "Bot abc" {
		t.Errorf("token = %q, want prefixed", s.Token)
	}
	if s.Identify.Intents != SpiderIntents {
		t.Errorf("intents = %v", s.Identify.Intents)
	}
}
