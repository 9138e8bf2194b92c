package enrollkit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/enrollkit/enrollkit/internal/rate"
	"github.com/enrollkit/enrollkit/token"
)

func (e *Engine) loginQuota() rate.Quota {
	return rate.Quota{Limit: e.config.RateLimits.LoginPerHour, Window: time.Hour}
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, handle, password string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" || password == "" {
		return &LoginResult{Outcome: OutcomeValidation, Message: "handle and password are required"}, nil
	}

	res, err := e.limiter.Check(ctx, opLogin, handle, e.loginQuota())
	if err != nil {
		return nil, err
	}
	if res.Allowed {
		if ip := clientIPFromContext(ctx); ip != "" {
			res, err = e.limiter.Check(ctx, "login_ip", ip, e.loginQuota())
			if err != nil {
				return nil, err
			}
		}
	}
	if !res.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitAttempt(ctx, opLogin, methodPassword, "", handle, false, OutcomeRateLimited.String())
		return &LoginResult{
			Outcome:    OutcomeRateLimited,
			Message:    "too many login attempts; try again later",
			RetryAfter: res.RetryAfter,
		}, nil
	}

	res, err = e.limiter.CheckProgressive(ctx, opLogin, handle,
		e.config.RateLimits.ProgressiveBase, e.config.RateLimits.ProgressiveMax)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitAttempt(ctx, opLogin, methodPassword, "", handle, false, OutcomeRateLimited.String())
		return &LoginResult{
			Outcome:    OutcomeRateLimited,
			Message:    "too many failed attempts; wait before retrying",
			RetryAfter: res.RetryAfter,
		}, nil
	}

	identity, err := e.lookupForLogin(ctx, handle)
	if errors.Is(err, ErrIdentityNotFound) {
		// Uniform failure path: unknown handles cost the caller the same
		// as a wrong password.
		if err := e.limiter.RecordFailure(ctx, opLogin, handle); err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginFailure)
		e.emitAttempt(ctx, opLogin, methodPassword, "", handle, false, OutcomeInvalidCredentials.String())
		return &LoginResult{Outcome: OutcomeInvalidCredentials, Message: "invalid credentials"}, nil
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	if identity.Locked(now) {
		e.metricInc(MetricLoginLocked)
		e.emitAttempt(ctx, opLogin, methodPassword, identity.ID, handle, false, OutcomeAccountLocked.String())
		return &LoginResult{
			Outcome:    OutcomeAccountLocked,
			Message:    "account temporarily locked after repeated failures",
			RetryAfter: identity.LockedUntil.Sub(now),
		}, nil
	}

	ok, err := e.passwordHash.Verify(password, identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.rejectPassword(ctx, identity, handle, now)
	}

	if !identity.Active {
		e.emitAttempt(ctx, opLogin, methodPassword, identity.ID, handle, false, OutcomeAccountInactive.String())
		return &LoginResult{
			Outcome:    OutcomeAccountInactive,
			IdentityID: identity.ID,
			Message:    "finish enrollment before signing in",
		}, nil
	}

	if err := e.store.UpdateLoginState(ctx, identity.ID, 0, time.Time{}, now); err != nil {
		return nil, err
	}
	if err := e.limiter.Reset(ctx, opLogin, handle, e.loginQuota()); err != nil {
		return nil, err
	}

	if identity.TwoFactorEnabled {
		methods, err := e.availableSecondFactors(ctx, identity)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricSecondFactorRequired)
		e.emitAttempt(ctx, opLogin, methodPassword, identity.ID, handle, true, "")
		return &LoginResult{
			Outcome:          OutcomeSecondFactorRequired,
			Message:          "second factor required",
			IdentityID:       identity.ID,
			SecondFactor:     true,
			AvailableMethods: methods,
		}, nil
	}

	access, refresh, err := e.issueTokenPair(identity.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAttempt(ctx, opLogin, methodPassword, identity.ID, handle, true, "")

	return &LoginResult{
		Success:      true,
		Outcome:      OutcomeOK,
		Message:      "signed in",
		IdentityID:   identity.ID,
		MethodUsed:   methodPassword,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// lookupForLogin resolves the submitted identifier as a handle first and as
// an email address second.
func (e *Engine) lookupForLogin(ctx context.Context, handle string) (Identity, error) {
	identity, err := e.store.GetIdentityByHandle(ctx, handle)
	if errors.Is(err, ErrIdentityNotFound) && strings.Contains(handle, "@") {
		return e.store.GetIdentityByEmail(ctx, handle)
	}
	return identity, err
}

// rejectPassword counts a wrong password, locking the account when the
// consecutive-failure threshold is reached.
func (e *Engine) rejectPassword(ctx context.Context, identity Identity, handle string, now time.Time) (*LoginResult, error) {
	failed := identity.FailedLogins + 1

	var lockedUntil time.Time
	if failed >= e.config.Lockout.MaxFailedLogins {
		lockedUntil = now.Add(e.config.Lockout.LockDuration)
	}

	if err := e.store.UpdateLoginState(ctx, identity.ID, failed, lockedUntil, identity.LastLoginAt); err != nil {
		return nil, err
	}
	if err := e.limiter.RecordFailure(ctx, opLogin, handle); err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginFailure)
	if !lockedUntil.IsZero() {
		e.metricInc(MetricLoginLocked)
		e.emitAttempt(ctx, opLogin, methodPassword, identity.ID, handle, false, OutcomeAccountLocked.String())
		return &LoginResult{
			Outcome:    OutcomeAccountLocked,
			Message:    "account temporarily locked after repeated failures",
			RetryAfter: lockedUntil.Sub(now),
		}, nil
	}

	e.emitAttempt(ctx, opLogin, methodPassword, identity.ID, handle, false, OutcomeInvalidCredentials.String())
	return &LoginResult{Outcome: OutcomeInvalidCredentials, Message: "invalid credentials"}, nil
}

// availableSecondFactors lists the step-up methods this identity can use.
func (e *Engine) availableSecondFactors(ctx context.Context, identity Identity) ([]string, error) {
	var methods []string

	method, err := e.store.GetSecondFactor(ctx, identity.ID)
	if err == nil && method.Active {
		methods = append(methods, methodTOTP)
	} else if err != nil && !errors.Is(err, ErrSecondFactorNotFound) {
		return nil, err
	}

	if identity.EmailVerified {
		methods = append(methods, "email")
	}
	if identity.PhoneVerified {
		methods = append(methods, "sms")
	}
	return methods, nil
}

// SubmitSecondFactor describes the submitsecondfactor operation and its observable behavior.
//
// SubmitSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// SubmitSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitSecondFactor(ctx context.Context, identityID, code, method string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if method == "" {
		method = methodTOTP
	}

	if blocked, gate, err := e.gateSubmission(ctx, opLoginSecondFactor, identityID); err != nil {
		return nil, err
	} else if blocked {
		e.metricInc(MetricLoginRateLimited)
		e.emitAttempt(ctx, opLoginSecondFactor, method, identityID, "", false, OutcomeRateLimited.String())
		return &LoginResult{Outcome: gate.Outcome, Message: gate.Message, RetryAfter: gate.RetryAfter}, nil
	}

	identity, err := e.store.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &LoginResult{Outcome: OutcomeNotFound, Message: "unknown identity"}, nil
	}
	if err != nil {
		return nil, err
	}

	if !identity.Active || !identity.TwoFactorEnabled {
		e.emitAttempt(ctx, opLoginSecondFactor, method, identity.ID, identity.Handle, false, OutcomeStepOutOfOrder.String())
		return &LoginResult{Outcome: OutcomeStepOutOfOrder, Message: "no second-factor step is pending"}, nil
	}

	var used string
	switch method {
	case methodTOTP:
		used, err = e.resolveAuthenticator(ctx, identity, code)
	case "email", "sms":
		used, err = e.resolveLoginCode(ctx, identity, code, method)
	default:
		return &LoginResult{Outcome: OutcomeValidation, Message: "unknown second-factor method"}, nil
	}
	if err != nil {
		return nil, err
	}

	if used == "" {
		e.metricInc(MetricSecondFactorFailure)
		if err := e.limiter.RecordFailure(ctx, opLoginSecondFactor, identity.ID); err != nil {
			return nil, err
		}
		e.emitAttempt(ctx, opLoginSecondFactor, method, identity.ID, identity.Handle, false, OutcomeInvalidCode.String())
		return &LoginResult{Outcome: OutcomeInvalidCode, Message: "invalid second-factor code"}, nil
	}

	access, refresh, err := e.issueTokenPair(identity.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAttempt(ctx, opLoginSecondFactor, used, identity.ID, identity.Handle, true, "")

	return &LoginResult{
		Success:      true,
		Outcome:      OutcomeOK,
		Message:      "signed in",
		IdentityID:   identity.ID,
		MethodUsed:   used,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// resolveAuthenticator checks the code against the confirmed TOTP method,
// falling back to backup codes. Returns the method string used, or "" on
// mismatch.
func (e *Engine) resolveAuthenticator(ctx context.Context, identity Identity, code string) (string, error) {
	method, err := e.store.GetSecondFactor(ctx, identity.ID)
	if errors.Is(err, ErrSecondFactorNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !method.Active {
		return "", nil
	}

	match, err := e.secondFactor.Resolve(method, code, e.now())
	if err != nil {
		return "", err
	}
	if !match.OK {
		return "", nil
	}

	if match.Method == methodBackupCode {
		consumed, err := e.store.ConsumeBackupCode(ctx, identity.ID, match.ConsumedHash)
		if err != nil {
			return "", err
		}
		if !consumed {
			// Digest raced away between match and consume: the code was
			// already spent.
			return "", nil
		}
		e.metricInc(MetricBackupCodeUsed)
	}

	return match.Method, nil
}

// resolveLoginCode checks a delivered login code. Returns the method string
// used, or "" on mismatch.
func (e *Engine) resolveLoginCode(ctx context.Context, identity Identity, code, method string) (string, error) {
	sub, err := e.codes.Submit(ctx, identity.ID, PurposeLoginCode, code)
	if err != nil {
		return "", err
	}
	if sub.Outcome != OutcomeOK {
		return "", nil
	}
	if method == "sms" {
		return methodSMSCode, nil
	}
	return methodEmailCode, nil
}

// RequestLoginCode describes the requestlogincode operation and its observable behavior.
//
// RequestLoginCode may return an error when input validation, dependency calls, or security checks fail.
// RequestLoginCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RequestLoginCode(ctx context.Context, identityID, method string) (*VerifyResult, error) {
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

	if !identity.Active || !identity.TwoFactorEnabled {
		return &VerifyResult{Outcome: OutcomeStepOutOfOrder, Message: "no second-factor step is pending"}, nil
	}

	var channel CodeChannel
	switch method {
	case "email":
		if !identity.EmailVerified {
			return &VerifyResult{Outcome: OutcomeValidation, Message: "email is not verified for this account"}, nil
		}
		channel = ChannelEmail
	case "sms":
		if !identity.PhoneVerified {
			return &VerifyResult{Outcome: OutcomeValidation, Message: "phone is not verified for this account"}, nil
		}
		channel = ChannelSMS
	default:
		return &VerifyResult{Outcome: OutcomeValidation, Message: "unknown delivery method"}, nil
	}

	sent, err := e.codes.Send(ctx, identity, PurposeLoginCode, channel)
	if err != nil {
		return nil, err
	}

	result := e.sendResult(sent, channel)
	e.emitAttempt(ctx, opRequestLoginCode, purposeChannelMethod(channel), identity.ID, identity.Handle, result.Success, failReason(result))
	return result, nil
}

func purposeChannelMethod(channel CodeChannel) string {
	if channel == ChannelSMS {
		return methodSMSCode
	}
	return methodEmailCode
}

// RefreshTokens describes the refreshtokens operation and its observable behavior.
//
// RefreshTokens may return an error when input validation, dependency calls, or security checks fail.
// RefreshTokens does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RefreshTokens(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	subject, err := e.tokens.Validate(refreshToken, token.TypeRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		outcome := OutcomeTokenInvalid
		if errors.Is(err, token.ErrExpired) {
			outcome = OutcomeTokenExpired
		}
		e.emitAttempt(ctx, opRefresh, "", "", "", false, outcome.String())
		return &LoginResult{Outcome: outcome, Message: "refresh token rejected"}, nil
	}

	identity, err := e.store.GetIdentityByID(ctx, subject)
	if errors.Is(err, ErrIdentityNotFound) {
		e.metricInc(MetricRefreshFailure)
		e.emitAttempt(ctx, opRefresh, "", subject, "", false, OutcomeTokenInvalid.String())
		return &LoginResult{Outcome: OutcomeTokenInvalid, Message: "refresh token rejected"}, nil
	}
	if err != nil {
		return nil, err
	}

	if !identity.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAttempt(ctx, opRefresh, "", identity.ID, identity.Handle, false, OutcomeAccountInactive.String())
		return &LoginResult{Outcome: OutcomeAccountInactive, Message: "account is not active"}, nil
	}

	access, refresh, err := e.issueTokenPair(identity.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAttempt(ctx, opRefresh, "", identity.ID, identity.Handle, true, "")

	return &LoginResult{
		Success:      true,
		Outcome:      OutcomeOK,
		Message:      "tokens refreshed",
		IdentityID:   identity.ID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (e *Engine) issueTokenPair(identityID string) (string, string, error) {
	access, err := e.tokens.IssueAccess(identityID)
	if err != nil {
		return "", "", err
	}
	refresh, err := e.tokens.IssueRefresh(identityID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
