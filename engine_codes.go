package enrollkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/enrollkit/enrollkit/internal/rate"
)

// SubmitEmailCode describes the submitemailcode operation and its observable behavior.
//
// SubmitEmailCode may return an error when input validation, dependency calls, or security checks fail.
// SubmitEmailCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitEmailCode(ctx context.Context, identityID, code string) (*VerifyResult, error) {
	return e.submitVerification(ctx, identityID, code, PurposeEmailVerification)
}

// SubmitPhoneCode describes the submitphonecode operation and its observable behavior.
//
// SubmitPhoneCode may return an error when input validation, dependency calls, or security checks fail.
// SubmitPhoneCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitPhoneCode(ctx context.Context, identityID, code string) (*VerifyResult, error) {
	return e.submitVerification(ctx, identityID, code, PurposePhoneVerification)
}

func (e *Engine) submitVerification(ctx context.Context, identityID, code string, purpose CodePurpose) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	operation := opVerifyEmail
	expected := RegistrationPendingEmail
	if purpose == PurposePhoneVerification {
		operation = opVerifyPhone
		expected = RegistrationPendingPhone
	}

	if blocked, result, err := e.gateSubmission(ctx, operation, identityID); err != nil {
		return nil, err
	} else if blocked {
		e.metricInc(MetricCodeRateLimited)
		e.emitAttempt(ctx, operation, purposeMethod(purpose), identityID, "", false, OutcomeRateLimited.String())
		return result, nil
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrIdentityNotFound) {
		e.emitAttempt(ctx, operation, purposeMethod(purpose), identityID, "", false, OutcomeNotFound.String())
		return &VerifyResult{Outcome: OutcomeNotFound, Message: "unknown identity"}, nil
	}
	if err != nil {
		return nil, err
	}

	if identity.Status != expected {
		e.emitAttempt(ctx, operation, purposeMethod(purpose), identity.ID, identity.Handle, false, OutcomeStepOutOfOrder.String())
		return &VerifyResult{
			Outcome:  OutcomeStepOutOfOrder,
			Message:  fmt.Sprintf("this step is not available while registration is %s", identity.Status),
			NextStep: nextStepFor(identity.Status),
		}, nil
	}

	sub, err := e.codes.Submit(ctx, identity.ID, purpose, code)
	if err != nil {
		return nil, err
	}

	if sub.Outcome != OutcomeOK {
		return e.rejectSubmission(ctx, operation, identity, purpose, sub)
	}

	identity, next, err := e.advanceAfterVerification(ctx, identity, purpose)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricCodeVerified)
	if next == RegistrationCompleted {
		e.metricInc(MetricEnrollmentCompleted)
	}
	e.emitAttempt(ctx, operation, purposeMethod(purpose), identity.ID, identity.Handle, true, "")

	result := &VerifyResult{
		Success:  true,
		Outcome:  OutcomeOK,
		NextStep: nextStepFor(next),
	}
	result.Message = e.verificationSuccessMessage(ctx, identity, purpose, next, result)

	return result, nil
}

// gateSubmission applies the hourly submission quota and the progressive
// failure backoff shared by every code-checking operation.
func (e *Engine) gateSubmission(ctx context.Context, scope, identityID string) (bool, *VerifyResult, error) {
	res, err := e.limiter.Check(ctx, scope, identityID, rate.Quota{
		Limit:  e.config.RateLimits.VerifyPerHour,
		Window: time.Hour,
	})
	if err != nil {
		return false, nil, err
	}
	if !res.Allowed {
		return true, &VerifyResult{
			Outcome:    OutcomeRateLimited,
			Message:    "too many attempts; try again later",
			RetryAfter: res.RetryAfter,
		}, nil
	}

	res, err = e.limiter.CheckProgressive(ctx, scope, identityID,
		e.config.RateLimits.ProgressiveBase, e.config.RateLimits.ProgressiveMax)
	if err != nil {
		return false, nil, err
	}
	if !res.Allowed {
		return true, &VerifyResult{
			Outcome:    OutcomeRateLimited,
			Message:    "too many failed attempts; wait before retrying",
			RetryAfter: res.RetryAfter,
		}, nil
	}

	return false, nil, nil
}

// rejectSubmission translates a failed code submission into a result, a
// failure record for progressive backoff, metrics, and an audit entry.
func (e *Engine) rejectSubmission(ctx context.Context, operation string, identity Identity, purpose CodePurpose, sub submitOutcome) (*VerifyResult, error) {
	result := &VerifyResult{
		Outcome:           sub.Outcome,
		AttemptsRemaining: sub.AttemptsRemaining,
	}

	switch sub.Outcome {
	case OutcomeInvalidCode:
		e.metricInc(MetricCodeRejected)
		result.Message = fmt.Sprintf("invalid code; %d attempts remaining", sub.AttemptsRemaining)
		if err := e.limiter.RecordFailure(ctx, operation, identity.ID); err != nil {
			return nil, err
		}
	case OutcomeCodeExhausted:
		e.metricInc(MetricCodeExhausted)
		result.Message = "too many incorrect attempts; the code is no longer valid, request a new one"
		if err := e.limiter.RecordFailure(ctx, operation, identity.ID); err != nil {
			return nil, err
		}
	case OutcomeCodeExpired:
		e.metricInc(MetricCodeExpired)
		result.Message = "the code has expired; request a new one"
	default:
		result.Message = "no active code; request a new one"
	}

	e.emitAttempt(ctx, operation, purposeMethod(purpose), identity.ID, identity.Handle, false, sub.Outcome.String())
	return result, nil
}

// advanceAfterVerification moves the identity to its next enrollment step
// after a verified email or phone code.
func (e *Engine) advanceAfterVerification(ctx context.Context, identity Identity, purpose CodePurpose) (Identity, RegistrationStatus, error) {
	now := e.now()
	upd := registrationUpdateFrom(identity)

	var next RegistrationStatus
	if purpose == PurposeEmailVerification {
		upd.EmailVerified = true
		upd.EmailVerifiedAt = now
		switch {
		case e.config.Verification.RequirePhone:
			next = RegistrationPendingPhone
		case e.config.Verification.RequireSecondFactor:
			next = RegistrationPendingSecondFactor
		default:
			next = RegistrationCompleted
		}
	} else {
		upd.PhoneVerified = true
		upd.PhoneVerifiedAt = now
		if e.config.Verification.RequireSecondFactor {
			next = RegistrationPendingSecondFactor
		} else {
			next = RegistrationCompleted
		}
	}

	upd.Status = next
	if next == RegistrationCompleted {
		upd.Active = true
	}

	updated, err := e.store.UpdateRegistration(ctx, identity.ID, upd)
	if err != nil {
		return Identity{}, 0, err
	}
	return updated, next, nil
}

// verificationSuccessMessage builds the success message, sending the
// follow-up phone code when the next step needs one.
func (e *Engine) verificationSuccessMessage(ctx context.Context, identity Identity, purpose CodePurpose, next RegistrationStatus, result *VerifyResult) string {
	verified := "email verified"
	if purpose == PurposePhoneVerification {
		verified = "phone verified"
	}

	switch next {
	case RegistrationPendingPhone:
		sent, err := e.codes.Send(ctx, identity, PurposePhoneVerification, ChannelSMS)
		if err != nil || sent.Outcome != OutcomeOK {
			if sent.Outcome == OutcomeDeliveryFailed {
				e.metricInc(MetricCodeDeliveryFailed)
			}
			return verified + "; the phone code could not be delivered, request a resend"
		}
		e.metricInc(MetricCodeSent)
		return verified + "; a code was sent to your phone"
	case RegistrationPendingSecondFactor:
		return verified + "; set up your authenticator app next"
	case RegistrationCompleted:
		return verified + "; enrollment complete, you can sign in"
	default:
		return verified
	}
}

// ResendVerificationCode describes the resendverificationcode operation and its observable behavior.
//
// ResendVerificationCode may return an error when input validation, dependency calls, or security checks fail.
// ResendVerificationCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResendVerificationCode(ctx context.Context, identityID string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &VerifyResult{Outcome: OutcomeNotFound, Message: "unknown identity"}, nil
	}
	if err != nil {
		return nil, err
	}

	var purpose CodePurpose
	var channel CodeChannel
	switch identity.Status {
	case RegistrationPendingEmail:
		purpose, channel = PurposeEmailVerification, ChannelEmail
	case RegistrationPendingPhone:
		purpose, channel = PurposePhoneVerification, ChannelSMS
	default:
		return &VerifyResult{
			Outcome:  OutcomeStepOutOfOrder,
			Message:  "no verification step is pending",
			NextStep: nextStepFor(identity.Status),
		}, nil
	}

	sent, err := e.codes.Send(ctx, identity, purpose, channel)
	if err != nil {
		return nil, err
	}

	result := e.sendResult(sent, channel)
	e.emitAttempt(ctx, opResendCode, purposeMethod(purpose), identity.ID, identity.Handle, result.Success, failReason(result))
	return result, nil
}

// sendResult translates a send outcome into a caller-facing result.
func (e *Engine) sendResult(sent sendOutcome, channel CodeChannel) *VerifyResult {
	switch sent.Outcome {
	case OutcomeOK:
		e.metricInc(MetricCodeSent)
		target := "your email"
		if channel == ChannelSMS {
			target = "your phone"
		}
		return &VerifyResult{Success: true, Outcome: OutcomeOK, Message: "a new code was sent to " + target}
	case OutcomeCooldown:
		return &VerifyResult{
			Outcome:    OutcomeCooldown,
			Message:    "a code was sent recently; wait before requesting another",
			RetryAfter: sent.RetryAfter,
		}
	case OutcomeRateLimited:
		e.metricInc(MetricCodeRateLimited)
		return &VerifyResult{
			Outcome:    OutcomeRateLimited,
			Message:    "too many codes requested; try again later",
			RetryAfter: sent.RetryAfter,
		}
	default:
		e.metricInc(MetricCodeDeliveryFailed)
		return &VerifyResult{
			Outcome: OutcomeDeliveryFailed,
			Message: "the code could not be delivered; try again",
		}
	}
}

func registrationUpdateFrom(identity Identity) RegistrationUpdate {
	return RegistrationUpdate{
		Status:           identity.Status,
		EmailVerified:    identity.EmailVerified,
		PhoneVerified:    identity.PhoneVerified,
		TwoFactorEnabled: identity.TwoFactorEnabled,
		Active:           identity.Active,
		EmailVerifiedAt:  identity.EmailVerifiedAt,
		PhoneVerifiedAt:  identity.PhoneVerifiedAt,
	}
}

func purposeMethod(purpose CodePurpose) string {
	if purpose == PurposePhoneVerification {
		return methodSMSCode
	}
	return methodEmailCode
}

func failReason(result *VerifyResult) string {
	if result.Success {
		return ""
	}
	return result.Outcome.String()
}
