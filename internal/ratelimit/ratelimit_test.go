package ratelimit

import (
	"errors"
	"testing"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for range 100 {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unlimited limiter rejected: %v", err)
		}
	}
}

func TestLimiter_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := range 3 {
		if err := l.Allow("caller"); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if err := l.Allow("caller"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestLimiter_CallersIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("alpha"); err != nil {
		t.Fatalf("alpha rejected: %v", err)
	}
	if err := l.Allow("alpha"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("alpha second request should be limited, got %v", err)
	}
	// A different caller has its own full bucket.
	if err := l.Allow("bravo"); err != nil {
		t.Errorf("bravo rejected: %v", err)
	}
}

func TestLimiter_BurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})

	if err := l.Allow("c"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Allow("c"); err != nil {
		t.Fatalf("second request rejected: %v", err)
	}
	if err := l.Allow("c"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third request should be limited, got %v", err)
	}
}
