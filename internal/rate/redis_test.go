package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisCheckEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newTestClock()
	counter := NewRedisCounter(rdb, clock.Now)
	quota := Quota{Limit: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		res, err := counter.Check(ctx, "login", "alice", quota)
		if err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("expected attempt %d to be allowed", i)
		}
		clock.Advance(time.Minute)
	}

	res, err := counter.Check(ctx, "login", "alice", quota)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected fourth attempt to be blocked")
	}
	if res.RetryAfter <= 56*time.Minute || res.RetryAfter > 57*time.Minute {
		t.Fatalf("unexpected RetryAfter: %v", res.RetryAfter)
	}
}

func TestRedisBlockedCheckRecordsNothing(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newTestClock()
	counter := NewRedisCounter(rdb, clock.Now)
	quota := Quota{Limit: 1, Window: time.Hour}

	if res, _ := counter.Check(ctx, "login", "alice", quota); !res.Allowed {
		t.Fatal("expected first attempt to be allowed")
	}

	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		if res, _ := counter.Check(ctx, "login", "alice", quota); res.Allowed {
			t.Fatalf("expected attempt %d to be blocked", i)
		}
	}

	clock.Advance(56 * time.Minute)
	res, err := counter.Check(ctx, "login", "alice", quota)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected attempt after window to be allowed")
	}
}

func TestRedisCompositeQuotaBlockedCheckRecordsNothing(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newTestClock()
	counter := NewRedisCounter(rdb, clock.Now)

	wide := Quota{Limit: 2, Window: time.Hour}
	narrow := Quota{Limit: 1, Window: 30 * time.Minute}

	if res, _ := counter.Check(ctx, "login", "alice", wide, narrow); !res.Allowed {
		t.Fatal("expected first attempt to be allowed")
	}

	// The narrow quota blocks; the wide window must stay untouched.
	clock.Advance(time.Minute)
	res, err := counter.Check(ctx, "login", "alice", wide, narrow)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected the narrow quota to block")
	}

	if res, _ := counter.Check(ctx, "login", "alice", wide); !res.Allowed {
		t.Fatal("blocked check leaked an event into the wide window")
	}
	clock.Advance(time.Minute)
	if res, _ := counter.Check(ctx, "login", "alice", wide); res.Allowed {
		t.Fatal("expected the wide quota to be exhausted by its two admissions")
	}
}

func TestRedisProgressiveBackoff(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newTestClock()
	counter := NewRedisCounter(rdb, clock.Now)

	base := 5 * time.Minute
	max := 30 * time.Minute

	if res, _ := counter.CheckProgressive(ctx, "login", "alice", base, max); !res.Allowed {
		t.Fatal("expected clean identifier to be allowed")
	}

	if err := counter.RecordFailure(ctx, "login", "alice"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	res, err := counter.CheckProgressive(ctx, "login", "alice", base, max)
	if err != nil {
		t.Fatalf("CheckProgressive failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected block after one failure")
	}
	if res.RetryAfter != base {
		t.Fatalf("RetryAfter = %v, want %v", res.RetryAfter, base)
	}

	if err := counter.RecordFailure(ctx, "login", "alice"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	res, err = counter.CheckProgressive(ctx, "login", "alice", base, max)
	if err != nil {
		t.Fatalf("CheckProgressive failed: %v", err)
	}
	if res.Allowed || res.RetryAfter != 2*base {
		t.Fatalf("after two failures: allowed=%v RetryAfter=%v, want blocked %v", res.Allowed, res.RetryAfter, 2*base)
	}

	clock.Advance(2*base + time.Second)
	res, err = counter.CheckProgressive(ctx, "login", "alice", base, max)
	if err != nil {
		t.Fatalf("CheckProgressive failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected admission after sitting out the delay")
	}
}

func TestRedisResetClearsState(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newTestClock()
	counter := NewRedisCounter(rdb, clock.Now)
	quota := Quota{Limit: 1, Window: time.Hour}

	if res, _ := counter.Check(ctx, "login", "alice", quota); !res.Allowed {
		t.Fatal("expected admission")
	}
	if err := counter.RecordFailure(ctx, "login", "alice"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	if err := counter.Reset(ctx, "login", "alice", quota); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if res, _ := counter.Check(ctx, "login", "alice", quota); !res.Allowed {
		t.Fatal("expected window to be empty after reset")
	}
	if res, _ := counter.CheckProgressive(ctx, "login", "alice", 5*time.Minute, 30*time.Minute); !res.Allowed {
		t.Fatal("expected failures to be cleared after reset")
	}
}

func TestRedisCheckUnavailableBackend(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	counter := NewRedisCounter(rdb, clock.Now)

	mr.Close()

	_, err := counter.Check(ctx, "login", "alice", Quota{Limit: 1, Window: time.Hour})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
