package enrollkit

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type capturedMessage struct {
	recipient string
	subject   string
	body      string
}

// captureNotifier records deliveries so tests can read the codes back.
type captureNotifier struct {
	mu        sync.Mutex
	emails    []capturedMessage
	sms       []capturedMessage
	failEmail bool
	failSMS   bool
}

type notifierDown struct{}

func (notifierDown) Error() string { return "notifier down" }

func (n *captureNotifier) SendEmail(_ context.Context, address, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failEmail {
		return notifierDown{}
	}
	n.emails = append(n.emails, capturedMessage{recipient: address, subject: subject, body: body})
	return nil
}

func (n *captureNotifier) SendSMS(_ context.Context, number, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failSMS {
		return notifierDown{}
	}
	n.sms = append(n.sms, capturedMessage{recipient: number, body: text})
	return nil
}

var testCodePattern = regexp.MustCompile(`\b\d{4,10}\b`)

func (n *captureNotifier) lastEmailCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.emails) == 0 {
		return ""
	}
	return testCodePattern.FindString(n.emails[len(n.emails)-1].body)
}

func (n *captureNotifier) lastSMSCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sms) == 0 {
		return ""
	}
	return testCodePattern.FindString(n.sms[len(n.sms)-1].body)
}

func (n *captureNotifier) emailCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.emails)
}

func (n *captureNotifier) smsCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sms)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.PrivateKey = []byte("test-signing-key-0123456789abcdef")
	cfg.Metrics.Enabled = true
	// Keep hashing cheap for tests.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *MemoryIdentityStore, *captureNotifier, *fakeClock) {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := NewMemoryIdentityStore()
	notifier := &captureNotifier{}
	clock := newFakeClock()

	engine, err := New().
		WithConfig(cfg).
		WithIdentityStore(store).
		WithNotifier(notifier).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, notifier, clock
}

// fastBackoff shrinks the progressive failure delay so scenario tests can
// retry after a one-second clock advance instead of sitting out minutes.
func fastBackoff(cfg *Config) {
	cfg.RateLimits.ProgressiveBase = time.Millisecond
	cfg.RateLimits.ProgressiveMax = 2 * time.Millisecond
}

func testRegisterRequest() RegisterRequest {
	return RegisterRequest{
		Handle:   "alice",
		Email:    "alice@example.com",
		Phone:    "+15550100",
		Password: "correct-horse-battery",
	}
}

// enrollIdentity walks a fresh registration through email and phone
// verification and returns the identity ID.
func enrollIdentity(t *testing.T, engine *Engine, notifier *captureNotifier) string {
	t.Helper()

	ctx := context.Background()

	reg, err := engine.Register(ctx, testRegisterRequest())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !reg.Success {
		t.Fatalf("expected registration to succeed, got %v: %s", reg.Outcome, reg.Message)
	}

	ver, err := engine.SubmitEmailCode(ctx, reg.IdentityID, notifier.lastEmailCode())
	if err != nil {
		t.Fatalf("SubmitEmailCode failed: %v", err)
	}
	if !ver.Success {
		t.Fatalf("expected email verification to succeed, got %v: %s", ver.Outcome, ver.Message)
	}

	ver, err = engine.SubmitPhoneCode(ctx, reg.IdentityID, notifier.lastSMSCode())
	if err != nil {
		t.Fatalf("SubmitPhoneCode failed: %v", err)
	}
	if !ver.Success {
		t.Fatalf("expected phone verification to succeed, got %v: %s", ver.Outcome, ver.Message)
	}

	return reg.IdentityID
}
