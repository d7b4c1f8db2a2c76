// ABOUTME: Tests for the rate limiter using a fake counter
// ABOUTME: Covers budgets, nil bypass, failure modes, and client keying

package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) Count(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func newTestLimiter(c counter, production bool) *Limiter {
	return &Limiter{
		counter:    c,
		production: production,
		logger:     slog.New(slog.DiscardHandler),
	}
}

func TestAllow_UnderLimit(t *testing.T) {
	l := newTestLimiter(&fakeCounter{counts: map[string]int64{}}, false)

	for i := 0; i < ValidateEmail.Limit; i++ {
		if err := l.Allow(context.Background(), ValidateEmail, "1.2.3.4"); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
	}
}

func TestAllow_OverLimit(t *testing.T) {
	l := newTestLimiter(&fakeCounter{counts: map[string]int64{}}, false)

	for i := 0; i < ValidateEmail.Limit; i++ {
		if err := l.Allow(context.Background(), ValidateEmail, "1.2.3.4"); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
	}
	err := l.Allow(context.Background(), ValidateEmail, "1.2.3.4")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{}}
	l := newTestLimiter(fc, false)

	for i := 0; i < ValidateEmail.Limit; i++ {
		if err := l.Allow(context.Background(), ValidateEmail, "1.2.3.4"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := l.Allow(context.Background(), ValidateEmail, "5.6.7.8"); err != nil {
		t.Errorf("different key should have its own budget, got %v", err)
	}
}

func TestAllow_BucketsAreIndependent(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{}}
	l := newTestLimiter(fc, false)

	for i := 0; i < ValidateEmail.Limit; i++ {
		if err := l.Allow(context.Background(), ValidateEmail, "1.2.3.4"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := l.Allow(context.Background(), Auth, "1.2.3.4"); err != nil {
		t.Errorf("different bucket should have its own budget, got %v", err)
	}
}

func TestAllow_NilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		if err := l.Allow(context.Background(), ValidateEmail, "1.2.3.4"); err != nil {
			t.Fatalf("nil limiter must allow, got %v", err)
		}
	}
}

func TestAllow_CounterFailure(t *testing.T) {
	down := &fakeCounter{err: errors.New("connection refused")}

	// Outside production a broken counter does not block logins.
	dev := newTestLimiter(down, false)
	if err := dev.Allow(context.Background(), ValidateEmail, "1.2.3.4"); err != nil {
		t.Errorf("expected fail-open outside production, got %v", err)
	}

	// In production it does.
	prod := newTestLimiter(down, true)
	err := prod.Allow(context.Background(), ValidateEmail, "1.2.3.4")
	if !errors.Is(err, ErrCounterUnavailable) {
		t.Errorf("expected ErrCounterUnavailable in production, got %v", err)
	}
}

func TestRedisCounter_SlidingWindowElapses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := New(client, true, slog.New(slog.DiscardHandler))
	bucket := Bucket{Prefix: "rl:test:", Limit: 5, Window: 50 * time.Millisecond}

	for i := 0; i < bucket.Limit; i++ {
		if err := l.Allow(context.Background(), bucket, "1.2.3.4"); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
	}
	if err := l.Allow(context.Background(), bucket, "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("6th request: expected ErrRateLimited, got %v", err)
	}

	// Entry scores are wall-clock timestamps set by the client, so once
	// the window passes the trim drops them and the budget refills.
	time.Sleep(60 * time.Millisecond)
	if err := l.Allow(context.Background(), bucket, "1.2.3.4"); err != nil {
		t.Errorf("request after window elapsed: expected allow, got %v", err)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "forwarded for single",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:    "1.2.3.4",
		},
		{
			name:    "forwarded for chain uses first hop",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1, 10.0.0.2"},
			want:    "1.2.3.4",
		},
		{
			name:    "real ip fallback",
			headers: map[string]string{"X-Real-IP": "5.6.7.8"},
			want:    "5.6.7.8",
		},
		{
			name: "forwarded for wins over real ip",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4",
				"X-Real-IP":       "5.6.7.8",
			},
			want: "1.2.3.4",
		},
		{
			name:    "no headers",
			headers: nil,
			want:    "unknown",
		},
		{
			name:    "blank forwarded for",
			headers: map[string]string{"X-Forwarded-For": "  ,10.0.0.1"},
			want:    "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientKey(r); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJitterDelay_Range(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := JitterDelay()
		if d < 200*time.Millisecond || d >= 500*time.Millisecond {
			t.Fatalf("jitter %v outside [200ms, 500ms)", d)
		}
	}
}
