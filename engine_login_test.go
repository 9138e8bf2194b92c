package enrollkit

import (
	"context"
	"testing"
	"time"
)

// activeAccount enrolls alice without the second-factor step so she can sign
// in with just a password.
func activeAccount(t *testing.T, mutate func(*Config)) (*Engine, *captureNotifier, *fakeClock, string) {
	t.Helper()

	engine, _, notifier, clock := newTestEngine(t, func(cfg *Config) {
		cfg.Verification.RequireSecondFactor = false
		fastBackoff(cfg)
		if mutate != nil {
			mutate(cfg)
		}
	})
	id := enrollIdentity(t, engine, notifier)
	return engine, notifier, clock, id
}

func TestLoginSuccessIssuesTokens(t *testing.T) {
	engine, _, _, id := activeAccount(t, nil)

	res, err := engine.Login(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if !res.Success || res.Outcome != OutcomeOK {
		t.Fatalf("expected sign-in, got %v: %s", res.Outcome, res.Message)
	}
	if res.IdentityID != id {
		t.Fatalf("expected identity %s, got %s", id, res.IdentityID)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}
	if res.MethodUsed != methodPassword {
		t.Fatalf("expected password method, got %q", res.MethodUsed)
	}
}

func TestLoginByEmailFallback(t *testing.T) {
	engine, _, _, _ := activeAccount(t, nil)

	res, err := engine.Login(context.Background(), "ALICE@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected email sign-in, got %v: %s", res.Outcome, res.Message)
	}
}

func TestLoginUnknownHandle(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)

	res, err := engine.Login(context.Background(), "nobody", "whatever-password")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if res.Outcome != OutcomeInvalidCredentials {
		t.Fatalf("expected uniform invalid-credentials rejection, got %v", res.Outcome)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	reg, err := engine.Register(ctx, testRegisterRequest())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	res, err := engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if res.Outcome != OutcomeAccountInactive {
		t.Fatalf("expected inactive rejection mid-enrollment, got %v", res.Outcome)
	}
	if res.IdentityID != reg.IdentityID {
		t.Fatalf("expected the identity ID so the caller can resume enrollment, got %q", res.IdentityID)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	engine, _, clock, _ := activeAccount(t, nil)
	ctx := context.Background()

	threshold := engine.config.Lockout.MaxFailedLogins
	for i := 1; i <= threshold; i++ {
		res, err := engine.Login(ctx, "alice", "wrong-password")
		if err != nil {
			t.Fatalf("attempt %d errored: %v", i, err)
		}
		if i < threshold {
			if res.Outcome != OutcomeInvalidCredentials {
				t.Fatalf("attempt %d: expected invalid credentials, got %v", i, res.Outcome)
			}
		} else {
			if res.Outcome != OutcomeAccountLocked {
				t.Fatalf("attempt %d: expected lockout, got %v", i, res.Outcome)
			}
			if res.RetryAfter != engine.config.Lockout.LockDuration {
				t.Fatalf("expected full lock duration, got %v", res.RetryAfter)
			}
		}
		clock.Advance(time.Second)
	}

	// The right password is no help while the lock holds.
	res, err := engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if res.Outcome != OutcomeAccountLocked {
		t.Fatalf("expected lock to hold, got %v", res.Outcome)
	}

	clock.Advance(engine.config.Lockout.LockDuration + time.Minute)

	res, err = engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected sign-in once the lock expired, got %v: %s", res.Outcome, res.Message)
	}
}

func TestLoginHourlyQuota(t *testing.T) {
	engine, _, clock, _ := activeAccount(t, nil)
	ctx := context.Background()

	limit := engine.config.RateLimits.LoginPerHour
	for i := 0; i < limit; i++ {
		res, err := engine.Login(ctx, "alice", "wrong-password")
		if err != nil {
			t.Fatalf("attempt %d errored: %v", i, err)
		}
		if res.Outcome == OutcomeRateLimited {
			t.Fatalf("attempt %d hit the quota early", i)
		}
		clock.Advance(time.Second)
	}

	res, err := engine.Login(ctx, "alice", "wrong-password")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if res.Outcome != OutcomeRateLimited {
		t.Fatalf("expected attempt %d in the hour to be limited, got %v", limit+1, res.Outcome)
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected a retry hint, got %v", res.RetryAfter)
	}
}

func TestLoginSecondFactorViaEmailCode(t *testing.T) {
	engine, _, notifier, clock := newTestEngine(t, fastBackoff)
	ctx := context.Background()

	id := enrollIdentity(t, engine, notifier)
	setup, err := engine.SetupSecondFactor(ctx, id)
	if err != nil {
		t.Fatalf("SetupSecondFactor errored: %v", err)
	}
	if _, err := engine.ConfirmSecondFactor(ctx, id, setup.BackupCodes[0]); err != nil {
		t.Fatalf("ConfirmSecondFactor errored: %v", err)
	}
	clock.Advance(2 * time.Minute)

	login, err := engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if login.Outcome != OutcomeSecondFactorRequired || !login.SecondFactor {
		t.Fatalf("expected a second-factor challenge, got %v", login.Outcome)
	}
	wantMethods := map[string]bool{"totp": true, "email": true, "sms": true}
	for _, m := range login.AvailableMethods {
		delete(wantMethods, m)
	}
	if len(wantMethods) != 0 {
		t.Fatalf("missing step-up methods %v in %v", wantMethods, login.AvailableMethods)
	}

	req, err := engine.RequestLoginCode(ctx, id, "email")
	if err != nil {
		t.Fatalf("RequestLoginCode errored: %v", err)
	}
	if !req.Success {
		t.Fatalf("expected a sign-in code, got %v: %s", req.Outcome, req.Message)
	}

	step, err := engine.SubmitSecondFactor(ctx, id, notifier.lastEmailCode(), "email")
	if err != nil {
		t.Fatalf("SubmitSecondFactor errored: %v", err)
	}
	if !step.Success || step.AccessToken == "" {
		t.Fatalf("expected sign-in, got %v: %s", step.Outcome, step.Message)
	}
	if step.MethodUsed != methodEmailCode {
		t.Fatalf("expected email_code method, got %q", step.MethodUsed)
	}
}

func TestRequestLoginCodeGuards(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t, func(cfg *Config) {
		cfg.Verification.RequireSecondFactor = false
	})
	id := enrollIdentity(t, engine, notifier)
	ctx := context.Background()

	// No second factor configured, so no step-up is pending.
	res, err := engine.RequestLoginCode(ctx, id, "email")
	if err != nil {
		t.Fatalf("RequestLoginCode errored: %v", err)
	}
	if res.Outcome != OutcomeStepOutOfOrder {
		t.Fatalf("expected step rejection, got %v", res.Outcome)
	}

	res, err = engine.RequestLoginCode(ctx, "no-such-identity", "email")
	if err != nil {
		t.Fatalf("RequestLoginCode errored: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("expected unknown identity, got %v", res.Outcome)
	}
}

func TestRefreshTokens(t *testing.T) {
	engine, _, clock, _ := activeAccount(t, nil)
	ctx := context.Background()

	login, err := engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if !login.Success {
		t.Fatalf("expected sign-in, got %v", login.Outcome)
	}

	clock.Advance(time.Minute)
	res, err := engine.RefreshTokens(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens errored: %v", err)
	}
	if !res.Success || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected a fresh pair, got %v: %s", res.Outcome, res.Message)
	}
	if res.AccessToken == login.AccessToken {
		t.Fatal("expected a newly minted access token")
	}

	// An access token is not a refresh token.
	res, err = engine.RefreshTokens(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("RefreshTokens errored: %v", err)
	}
	if res.Outcome != OutcomeTokenInvalid {
		t.Fatalf("expected token_invalid for the wrong type, got %v", res.Outcome)
	}

	clock.Advance(engine.config.Tokens.RefreshTTL + time.Hour)
	res, err = engine.RefreshTokens(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens errored: %v", err)
	}
	if res.Outcome != OutcomeTokenExpired {
		t.Fatalf("expected token_expired, got %v", res.Outcome)
	}
}
