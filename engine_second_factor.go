package enrollkit

import (
	"context"
	"errors"
)

// SetupSecondFactor describes the setupsecondfactor operation and its observable behavior.
//
// SetupSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// SetupSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SetupSecondFactor(ctx context.Context, identityID string) (*SecondFactorSetupResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &SecondFactorSetupResult{Outcome: OutcomeNotFound, Message: "unknown identity"}, nil
	}
	if err != nil {
		return nil, err
	}

	if !identity.EmailVerified || !identity.PhoneVerified {
		e.emitAttempt(ctx, opSetupSecondFactor, methodTOTP, identity.ID, identity.Handle, false, OutcomeStepOutOfOrder.String())
		return &SecondFactorSetupResult{
			Outcome: OutcomeStepOutOfOrder,
			Message: "verify your email and phone before setting up a second factor",
		}, nil
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, hashes, err := e.backup.Generate()
	if err != nil {
		return nil, err
	}

	// Re-running setup replaces any prior method wholesale; it stays
	// unverified until the first code is confirmed.
	err = e.store.ReplaceSecondFactor(ctx, SecondFactorMethod{
		IdentityID:  identity.ID,
		Kind:        methodTOTP,
		Secret:      secret,
		BackupCodes: hashes,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return nil, err
	}

	e.emitAttempt(ctx, opSetupSecondFactor, methodTOTP, identity.ID, identity.Handle, true, "")

	return &SecondFactorSetupResult{
		Success:         true,
		Outcome:         OutcomeOK,
		Message:         "scan the provisioning URI and confirm with a code from your authenticator",
		Secret:          secretBase32,
		ProvisioningURI: e.totp.ProvisionURI(secretBase32, identity.Email),
		BackupCodes:     codes,
	}, nil
}

// ConfirmSecondFactor describes the confirmsecondfactor operation and its observable behavior.
//
// ConfirmSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// ConfirmSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmSecondFactor(ctx context.Context, identityID, code string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if blocked, result, err := e.gateSubmission(ctx, opConfirmSecondFactor, identityID); err != nil {
		return nil, err
	} else if blocked {
		e.metricInc(MetricCodeRateLimited)
		e.emitAttempt(ctx, opConfirmSecondFactor, methodTOTP, identityID, "", false, OutcomeRateLimited.String())
		return result, nil
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &VerifyResult{Outcome: OutcomeNotFound, Message: "unknown identity"}, nil
	}
	if err != nil {
		return nil, err
	}

	method, err := e.store.GetSecondFactor(ctx, identity.ID)
	if errors.Is(err, ErrSecondFactorNotFound) {
		e.emitAttempt(ctx, opConfirmSecondFactor, methodTOTP, identity.ID, identity.Handle, false, OutcomeNotFound.String())
		return &VerifyResult{Outcome: OutcomeNotFound, Message: "set up your authenticator first"}, nil
	}
	if err != nil {
		return nil, err
	}

	match, err := e.secondFactor.Resolve(method, code, e.now())
	if err != nil {
		return nil, err
	}
	if !match.OK {
		e.metricInc(MetricSecondFactorFailure)
		if err := e.limiter.RecordFailure(ctx, opConfirmSecondFactor, identity.ID); err != nil {
			return nil, err
		}
		e.emitAttempt(ctx, opConfirmSecondFactor, methodTOTP, identity.ID, identity.Handle, false, OutcomeInvalidCode.String())
		return &VerifyResult{Outcome: OutcomeInvalidCode, Message: "invalid authenticator code"}, nil
	}

	if match.Method == methodBackupCode {
		if _, err := e.store.ConsumeBackupCode(ctx, identity.ID, match.ConsumedHash); err != nil {
			return nil, err
		}
		e.metricInc(MetricBackupCodeUsed)
	}

	if err := e.store.ActivateSecondFactor(ctx, identity.ID, e.now()); err != nil {
		return nil, err
	}

	if identity.Status == RegistrationPendingSecondFactor || !identity.TwoFactorEnabled {
		upd := registrationUpdateFrom(identity)
		upd.Status = RegistrationCompleted
		upd.TwoFactorEnabled = true
		upd.Active = true
		if _, err := e.store.UpdateRegistration(ctx, identity.ID, upd); err != nil {
			return nil, err
		}
		if identity.Status == RegistrationPendingSecondFactor {
			e.metricInc(MetricEnrollmentCompleted)
		}
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAttempt(ctx, opConfirmSecondFactor, match.Method, identity.ID, identity.Handle, true, "")

	return &VerifyResult{
		Success:  true,
		Outcome:  OutcomeOK,
		Message:  "second factor confirmed; enrollment complete",
		NextStep: "login",
	}, nil
}
