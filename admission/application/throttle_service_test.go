package application

import (
	"testing"
	"time"

	"serial-allocator/admission/domain"
)

type fakeLimiter struct {
	allow bool
}

func (f fakeLimiter) Allow() bool { return f.allow }

type fakeStore struct {
	lim domain.Limiter
}

func (s fakeStore) Get(domain.ClientKey) domain.Limiter { return s.lim }

func TestThrottleService_Decide_AllowsWhenNoStore(t *testing.T) {
	svc := ThrottleService{}
	dec := svc.Decide("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestThrottleService_Decide_AllowsWhenLimiterAllows(t *testing.T) {
	svc := ThrottleService{Store: fakeStore{lim: fakeLimiter{allow: true}}, RetryAfter: 5 * time.Second}
	dec := svc.Decide("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
}

func TestThrottleService_Decide_BlocksWithRetryAfterDefault(t *testing.T) {
	svc := ThrottleService{Store: fakeStore{lim: fakeLimiter{allow: false}}}
	dec := svc.Decide("k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestThrottleService_Decide_BlocksWithConfiguredRetryAfter(t *testing.T) {
	svc := ThrottleService{Store: fakeStore{lim: fakeLimiter{allow: false}}, RetryAfter: 2500 * time.Millisecond}
	dec := svc.Decide("k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
}

func TestNewReference(t *testing.T) {
	a, b := NewReference(), NewReference()
	if len(a) != 32 {
		t.Fatalf("expected 32-char reference, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct references")
	}
}
