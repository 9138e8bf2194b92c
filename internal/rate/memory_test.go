package rate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCheckEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)
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
	// Oldest event was 3 minutes ago; the window frees up in 57 minutes.
	if res.RetryAfter <= 56*time.Minute || res.RetryAfter > 57*time.Minute {
		t.Fatalf("unexpected RetryAfter: %v", res.RetryAfter)
	}
}

func TestMemoryBlockedCheckRecordsNothing(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)
	quota := Quota{Limit: 1, Window: time.Hour}

	if res, _ := counter.Check(ctx, "login", "alice", quota); !res.Allowed {
		t.Fatal("expected first attempt to be allowed")
	}

	// Hammering while blocked must not extend the block.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		if res, _ := counter.Check(ctx, "login", "alice", quota); res.Allowed {
			t.Fatalf("expected attempt %d to be blocked", i)
		}
	}

	clock.Advance(56 * time.Minute) // 61 minutes after the admitted event
	res, err := counter.Check(ctx, "login", "alice", quota)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected attempt after window to be allowed")
	}
}

func TestMemoryCompositeQuotaBlockedCheckRecordsNothing(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)

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

func TestMemoryCheckScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)
	quota := Quota{Limit: 1, Window: time.Hour}

	if res, _ := counter.Check(ctx, "login", "alice", quota); !res.Allowed {
		t.Fatal("expected first attempt to be allowed")
	}
	if res, _ := counter.Check(ctx, "login", "bob", quota); !res.Allowed {
		t.Fatal("expected other identifier to be unaffected")
	}
	if res, _ := counter.Check(ctx, "otp_email", "alice", quota); !res.Allowed {
		t.Fatal("expected other scope to be unaffected")
	}
}

func TestMemoryProgressiveDelayDoublesAndCaps(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)

	base := 5 * time.Minute
	max := 30 * time.Minute

	// No failures: always allowed.
	if res, _ := counter.CheckProgressive(ctx, "login", "alice", base, max); !res.Allowed {
		t.Fatal("expected clean identifier to be allowed")
	}

	expected := []time.Duration{
		5 * time.Minute,  // 1 failure
		10 * time.Minute, // 2 failures
		20 * time.Minute, // 3 failures
		30 * time.Minute, // 4 failures, capped
		30 * time.Minute, // 5 failures, still capped
	}

	for i, want := range expected {
		identifier := fmt.Sprintf("user-%d", i)
		for n := 0; n <= i; n++ {
			if err := counter.RecordFailure(ctx, "login", identifier); err != nil {
				t.Fatalf("RecordFailure failed: %v", err)
			}
		}

		res, err := counter.CheckProgressive(ctx, "login", identifier, base, max)
		if err != nil {
			t.Fatalf("CheckProgressive failed: %v", err)
		}
		if res.Allowed {
			t.Fatalf("expected block after %d failures", i+1)
		}
		if res.RetryAfter != want {
			t.Fatalf("after %d failures: RetryAfter = %v, want %v", i+1, res.RetryAfter, want)
		}
	}

	// Sitting out the delay admits the next attempt.
	clock.Advance(5*time.Minute + time.Second)
	res, err := counter.CheckProgressive(ctx, "login", "user-0", base, max)
	if err != nil {
		t.Fatalf("CheckProgressive after delay failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected admission after sitting out the delay")
	}
}

func TestMemoryProgressiveFailuresAgeOut(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)

	for i := 0; i < 3; i++ {
		if err := counter.RecordFailure(ctx, "login", "alice"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	clock.Advance(failureRetention + time.Second)
	res, err := counter.CheckProgressive(ctx, "login", "alice", 5*time.Minute, 30*time.Minute)
	if err != nil {
		t.Fatalf("CheckProgressive failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected failures older than the retention horizon to be ignored")
	}
}

func TestMemoryResetClearsWindowsAndFailures(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)
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

func TestMemoryPruneDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	counter := NewMemoryCounter(clock.Now)
	quota := Quota{Limit: 5, Window: time.Hour}

	if res, _ := counter.Check(ctx, "login", "alice", quota); !res.Allowed {
		t.Fatal("expected admission")
	}
	if err := counter.RecordFailure(ctx, "login", "alice"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if err := counter.Prune(ctx, time.Hour); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	counter.mu.Lock()
	events, failures := len(counter.events), len(counter.failures)
	counter.mu.Unlock()
	if events != 0 || failures != 0 {
		t.Fatalf("expected all entries pruned, got %d events and %d failures", events, failures)
	}
}

func TestProgressiveDelayShiftSafety(t *testing.T) {
	base := 5 * time.Minute
	max := 30 * time.Minute

	if got := progressiveDelay(1, base, max); got != base {
		t.Fatalf("delay(1) = %v, want %v", got, base)
	}
	// Very large failure counts must not overflow the shift.
	if got := progressiveDelay(100, base, max); got != max {
		t.Fatalf("delay(100) = %v, want %v", got, max)
	}
}
