package enrollkit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return &VerifyResult{Outcome: OutcomeValidation, Message: "a valid email address is required"}, nil
	}

	// The response never reveals whether the address is registered.
	accepted := &VerifyResult{
		Success: true,
		Outcome: OutcomeOK,
		Message: "if the address is registered, a reset code is on its way",
	}

	identity, err := e.store.GetIdentityByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		e.emitAttempt(ctx, opPasswordResetRequest, methodEmailCode, "", email, false, OutcomeNotFound.String())
		return accepted, nil
	}
	if err != nil {
		return nil, err
	}

	sent, err := e.codes.Send(ctx, identity, PurposePasswordReset, ChannelEmail)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordResetRequest)
	switch sent.Outcome {
	case OutcomeOK:
		e.metricInc(MetricCodeSent)
	case OutcomeCooldown, OutcomeRateLimited:
		// Swallowed: reporting the block would confirm the account exists.
	default:
		e.metricInc(MetricCodeDeliveryFailed)
	}
	e.emitAttempt(ctx, opPasswordResetRequest, methodEmailCode, identity.ID, identity.Handle, sent.Outcome == OutcomeOK, failReasonOutcome(sent.Outcome))

	return accepted, nil
}

func failReasonOutcome(outcome Outcome) string {
	if outcome == OutcomeOK {
		return ""
	}
	return outcome.String()
}

// ConfirmPasswordReset describes the confirmpasswordreset operation and its observable behavior.
//
// ConfirmPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// ConfirmPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, identityID, code, newPassword string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if len(newPassword) < e.config.Password.MinLength {
		return &VerifyResult{Outcome: OutcomeValidation, Message: "new password is too short"}, nil
	}

	if blocked, gate, err := e.gateSubmission(ctx, opPasswordResetConfirm, identityID); err != nil {
		return nil, err
	} else if blocked {
		e.emitAttempt(ctx, opPasswordResetConfirm, methodEmailCode, identityID, "", false, OutcomeRateLimited.String())
		return gate, nil
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &VerifyResult{Outcome: OutcomeNotFound, Message: "unknown identity"}, nil
	}
	if err != nil {
		return nil, err
	}

	sub, err := e.codes.Submit(ctx, identity.ID, PurposePasswordReset, code)
	if err != nil {
		return nil, err
	}
	if sub.Outcome != OutcomeOK {
		e.metricInc(MetricPasswordResetFailure)
		return e.rejectSubmission(ctx, opPasswordResetConfirm, identity, PurposePasswordReset, sub)
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		return nil, err
	}

	// A fresh password clears whatever failure streak preceded the reset.
	if err := e.store.UpdateLoginState(ctx, identity.ID, 0, time.Time{}, identity.LastLoginAt); err != nil {
		return nil, err
	}
	if err := e.limiter.Reset(ctx, opLogin, identity.Handle, e.loginQuota()); err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAttempt(ctx, opPasswordResetConfirm, methodEmailCode, identity.ID, identity.Handle, true, "")

	return &VerifyResult{
		Success:  true,
		Outcome:  OutcomeOK,
		Message:  "password updated",
		NextStep: "login",
	}, nil
}
