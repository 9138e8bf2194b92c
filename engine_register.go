package enrollkit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/enrollkit/enrollkit/internal/rate"
)

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	handle := strings.ToLower(strings.TrimSpace(req.Handle))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)

	if msg := e.validateRegistration(handle, email, phone, req.Password); msg != "" {
		e.emitAttempt(ctx, opRegister, methodPassword, "", handle, false, OutcomeValidation.String())
		return &RegisterResult{Outcome: OutcomeValidation, Message: msg}, nil
	}

	if ip := clientIPFromContext(ctx); ip != "" {
		res, err := e.limiter.Check(ctx, "registration", ip, rate.Quota{
			Limit:  e.config.RateLimits.RegistrationsPerDay,
			Window: 24 * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			e.metricInc(MetricRegisterRateLimited)
			e.emitAttempt(ctx, opRegister, methodPassword, "", handle, false, OutcomeRateLimited.String())
			return &RegisterResult{
				Outcome:    OutcomeRateLimited,
				Message:    "too many registrations from this address; try again later",
				RetryAfter: res.RetryAfter,
			}, nil
		}
	}

	if conflict, err := e.registrationConflict(ctx, handle, email); err != nil {
		return nil, err
	} else if conflict != "" {
		e.metricInc(MetricRegisterConflict)
		e.emitAttempt(ctx, opRegister, methodPassword, "", handle, false, OutcomeConflict.String())
		return &RegisterResult{Outcome: OutcomeConflict, Message: conflict}, nil
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		e.emitAttempt(ctx, opRegister, methodPassword, "", handle, false, OutcomeValidation.String())
		return &RegisterResult{Outcome: OutcomeValidation, Message: err.Error()}, nil
	}

	status := e.initialStatus()
	identity, err := e.store.CreateIdentity(ctx, CreateIdentityInput{
		Handle:        handle,
		Email:         email,
		Phone:         phone,
		PasswordHash:  hash,
		Status:        status,
		EmailVerified: !e.config.Verification.RequireEmail,
		PhoneVerified: !e.config.Verification.RequirePhone,
		Active:        status == RegistrationCompleted,
		CreatedAt:     e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			e.metricInc(MetricRegisterConflict)
			e.emitAttempt(ctx, opRegister, methodPassword, "", handle, false, OutcomeConflict.String())
			return &RegisterResult{Outcome: OutcomeConflict, Message: "an account with that handle or email already exists"}, nil
		}
		return nil, err
	}

	result := &RegisterResult{
		Success:    true,
		Outcome:    OutcomeOK,
		Message:    "registration accepted",
		IdentityID: identity.ID,
		NextStep:   nextStepFor(status),
	}

	switch status {
	case RegistrationPendingEmail:
		sent, err := e.codes.Send(ctx, identity, PurposeEmailVerification, ChannelEmail)
		if err != nil {
			return nil, err
		}
		e.noteInitialSend(result, sent, "a verification code was sent to your email")
	case RegistrationPendingPhone:
		sent, err := e.codes.Send(ctx, identity, PurposePhoneVerification, ChannelSMS)
		if err != nil {
			return nil, err
		}
		e.noteInitialSend(result, sent, "a verification code was sent to your phone")
	case RegistrationCompleted:
		result.Message = "registration complete; you can sign in"
	}

	e.metricInc(MetricRegisterSuccess)
	if status == RegistrationCompleted {
		e.metricInc(MetricEnrollmentCompleted)
	}
	e.emitAttempt(ctx, opRegister, methodPassword, identity.ID, handle, true, "")

	return result, nil
}

func (e *Engine) validateRegistration(handle, email, phone, password string) string {
	if handle == "" {
		return "handle is required"
	}
	if email == "" || !strings.Contains(email, "@") {
		return "a valid email address is required"
	}
	if e.config.Verification.RequirePhone && phone == "" {
		return "a phone number is required"
	}
	if password == "" {
		return "password is required"
	}
	return ""
}

// registrationConflict returns a user-facing message when handle or email is
// already taken, or "" when both are free.
func (e *Engine) registrationConflict(ctx context.Context, handle, email string) (string, error) {
	if _, err := e.store.GetIdentityByHandle(ctx, handle); err == nil {
		return "that handle is already taken", nil
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return "", err
	}

	if _, err := e.store.GetIdentityByEmail(ctx, email); err == nil {
		return "an account with that email already exists", nil
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return "", err
	}

	return "", nil
}

// initialStatus picks the first enrollment step that is administratively
// required, or completed when every step is disabled.
func (e *Engine) initialStatus() RegistrationStatus {
	switch {
	case e.config.Verification.RequireEmail:
		return RegistrationPendingEmail
	case e.config.Verification.RequirePhone:
		return RegistrationPendingPhone
	case e.config.Verification.RequireSecondFactor:
		return RegistrationPendingSecondFactor
	default:
		return RegistrationCompleted
	}
}

// noteInitialSend folds the initial code delivery into the registration
// result. Delivery failure does not fail the registration; the caller can
// request a resend.
func (e *Engine) noteInitialSend(result *RegisterResult, sent sendOutcome, okMessage string) {
	switch sent.Outcome {
	case OutcomeOK:
		e.metricInc(MetricCodeSent)
		result.Message = "registration accepted; " + okMessage
	case OutcomeDeliveryFailed:
		e.metricInc(MetricCodeDeliveryFailed)
		result.Message = "registration accepted, but the verification code could not be delivered; request a resend"
	case OutcomeRateLimited, OutcomeCooldown:
		result.Message = "registration accepted; a verification code will be available shortly"
		result.RetryAfter = sent.RetryAfter
	}
}

func nextStepFor(status RegistrationStatus) string {
	switch status {
	case RegistrationPendingEmail:
		return "verify_email"
	case RegistrationPendingPhone:
		return "verify_phone"
	case RegistrationPendingSecondFactor:
		return "setup_2fa"
	default:
		return "login"
	}
}

// Status describes the status operation and its observable behavior.
//
// Status may return an error when input validation, dependency calls, or security checks fail.
// Status does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Status(ctx context.Context, identityID string) (*StatusResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		IdentityID:       identity.ID,
		Status:           identity.Status.String(),
		EmailVerified:    identity.EmailVerified,
		PhoneVerified:    identity.PhoneVerified,
		TwoFactorEnabled: identity.TwoFactorEnabled,
		Active:           identity.Active,
		NextStep:         nextStepFor(identity.Status),
	}

	purpose, ok := pendingPurposeFor(identity.Status)
	if !ok {
		return result, nil
	}

	pending, attemptsLeft, expiresIn, err := e.codes.Pending(ctx, identity.ID, purpose)
	if err != nil {
		return nil, err
	}
	result.PendingCode = pending
	result.CodeAttemptsLeft = attemptsLeft
	result.CodeExpiresIn = expiresIn

	wait, err := e.codes.ResendWait(ctx, identity.ID, purpose)
	if err != nil {
		return nil, err
	}
	result.ResendWait = wait

	return result, nil
}

func pendingPurposeFor(status RegistrationStatus) (CodePurpose, bool) {
	switch status {
	case RegistrationPendingEmail:
		return PurposeEmailVerification, true
	case RegistrationPendingPhone:
		return PurposePhoneVerification, true
	default:
		return 0, false
	}
}
