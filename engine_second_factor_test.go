package enrollkit

import (
	"context"
	"testing"
	"time"
)

func TestSetupSecondFactorRequiresVerifiedContact(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	reg, err := engine.Register(ctx, testRegisterRequest())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	setup, err := engine.SetupSecondFactor(ctx, reg.IdentityID)
	if err != nil {
		t.Fatalf("SetupSecondFactor errored: %v", err)
	}
	if setup.Outcome != OutcomeStepOutOfOrder {
		t.Fatalf("expected setup to be refused before verification, got %v", setup.Outcome)
	}

	setup, err = engine.SetupSecondFactor(ctx, "no-such-identity")
	if err != nil {
		t.Fatalf("SetupSecondFactor errored: %v", err)
	}
	if setup.Outcome != OutcomeNotFound {
		t.Fatalf("expected unknown identity, got %v", setup.Outcome)
	}
}

func TestConfirmSecondFactorWithoutSetup(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t, nil)

	id := enrollIdentity(t, engine, notifier)

	res, err := engine.ConfirmSecondFactor(context.Background(), id, "123456")
	if err != nil {
		t.Fatalf("ConfirmSecondFactor errored: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("expected confirmation without setup to miss, got %v", res.Outcome)
	}
}

func TestSetupSecondFactorReplacesPriorSecret(t *testing.T) {
	engine, _, notifier, clock := newTestEngine(t, fastBackoff)
	ctx := context.Background()

	id := enrollIdentity(t, engine, notifier)

	first, err := engine.SetupSecondFactor(ctx, id)
	if err != nil {
		t.Fatalf("first setup errored: %v", err)
	}
	second, err := engine.SetupSecondFactor(ctx, id)
	if err != nil {
		t.Fatalf("second setup errored: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected re-running setup to roll a new secret")
	}

	stale := totpCodeFor(t, first.Secret, clock.Now(), engine.config.TOTP)
	res, err := engine.ConfirmSecondFactor(ctx, id, stale)
	if err != nil {
		t.Fatalf("ConfirmSecondFactor errored: %v", err)
	}
	if res.Outcome != OutcomeInvalidCode {
		t.Fatalf("expected the replaced secret's code to fail, got %v", res.Outcome)
	}
	clock.Advance(time.Second)

	fresh := totpCodeFor(t, second.Secret, clock.Now(), engine.config.TOTP)
	res, err = engine.ConfirmSecondFactor(ctx, id, fresh)
	if err != nil {
		t.Fatalf("ConfirmSecondFactor errored: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected the live secret's code to confirm, got %v: %s", res.Outcome, res.Message)
	}
}

func TestBackupCodeConfirmsAndIsSingleUse(t *testing.T) {
	engine, store, notifier, clock := newTestEngine(t, fastBackoff)
	ctx := context.Background()

	id := enrollIdentity(t, engine, notifier)

	setup, err := engine.SetupSecondFactor(ctx, id)
	if err != nil {
		t.Fatalf("SetupSecondFactor errored: %v", err)
	}

	res, err := engine.ConfirmSecondFactor(ctx, id, setup.BackupCodes[0])
	if err != nil {
		t.Fatalf("ConfirmSecondFactor errored: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected a backup code to confirm setup, got %v: %s", res.Outcome, res.Message)
	}

	method, err := store.GetSecondFactor(ctx, id)
	if err != nil {
		t.Fatalf("GetSecondFactor errored: %v", err)
	}
	if !method.Active || !method.Verified {
		t.Fatal("expected the method to be active after confirmation")
	}
	if len(method.BackupCodes) != len(setup.BackupCodes)-1 {
		t.Fatalf("expected the used backup code to be consumed, %d hashes remain", len(method.BackupCodes))
	}

	// Step-up login: the spent code is dead, the next one works.
	login, err := engine.Login(ctx, "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login errored: %v", err)
	}
	if login.Outcome != OutcomeSecondFactorRequired {
		t.Fatalf("expected a second-factor challenge, got %v", login.Outcome)
	}

	step, err := engine.SubmitSecondFactor(ctx, id, setup.BackupCodes[0], "")
	if err != nil {
		t.Fatalf("SubmitSecondFactor errored: %v", err)
	}
	if step.Outcome != OutcomeInvalidCode {
		t.Fatalf("expected the spent backup code to be rejected, got %v", step.Outcome)
	}
	clock.Advance(time.Second)

	step, err = engine.SubmitSecondFactor(ctx, id, setup.BackupCodes[1], "")
	if err != nil {
		t.Fatalf("SubmitSecondFactor errored: %v", err)
	}
	if !step.Success || step.AccessToken == "" {
		t.Fatalf("expected the next backup code to sign in, got %v: %s", step.Outcome, step.Message)
	}
	if step.MethodUsed != methodBackupCode {
		t.Fatalf("expected backup_code method, got %q", step.MethodUsed)
	}

	if got := engine.MetricsSnapshot().Counters[MetricBackupCodeUsed]; got != 2 {
		t.Fatalf("expected 2 backup codes consumed, got %d", got)
	}
}
