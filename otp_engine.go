package enrollkit

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enrollkit/enrollkit/internal"
	"github.com/enrollkit/enrollkit/internal/rate"
)

/*
====================================
KEYED MUTEX
====================================
*/

// keyedMutex serializes work per string key. Entries are reference counted
// and removed once the last holder releases, so the map never grows with
// the identity population.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry := k.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}

/*
====================================
ONE-TIME CODE ENGINE
====================================
*/

// sendOutcome is the expected result of issuing a code.
type sendOutcome struct {
	Outcome    Outcome
	RetryAfter time.Duration
	CodeID     string
}

// submitOutcome is the expected result of submitting a code.
type submitOutcome struct {
	Outcome           Outcome
	AttemptsRemaining int
}

// oneTimeCodeEngine issues, delivers, and checks short-lived numeric codes.
// Submissions for the same (identity, purpose) run under a keyed mutex, so
// the read-increment-compare sequence on a row is single flight and two
// racing submissions of the same code can never both succeed.
type oneTimeCodeEngine struct {
	vault    CodeVault
	notifier Notifier
	limiter  rate.Counter
	codes    CodeConfig
	limits   RateLimitConfig
	clock    func() time.Time
	locks    *keyedMutex
}

func newOneTimeCodeEngine(vault CodeVault, notifier Notifier, limiter rate.Counter, codes CodeConfig, limits RateLimitConfig, clock func() time.Time) *oneTimeCodeEngine {
	return &oneTimeCodeEngine{
		vault:    vault,
		notifier: notifier,
		limiter:  limiter,
		codes:    codes,
		limits:   limits,
		clock:    clock,
		locks:    newKeyedMutex(),
	}
}

func (o *oneTimeCodeEngine) serialKey(identityID string, purpose CodePurpose) string {
	return identityID + ":" + purpose.String()
}

// Send issues a new code for (identity, purpose) and delivers it over the
// given channel. The resend cooldown is checked before the channel quota so
// a cooled-down caller does not burn a quota slot. Delivery failure is
// compensated by discarding the stored row.
func (o *oneTimeCodeEngine) Send(ctx context.Context, identity Identity, purpose CodePurpose, channel CodeChannel) (sendOutcome, error) {
	now := o.clock()

	latest, err := o.vault.Latest(ctx, identity.ID, purpose)
	switch {
	case err == nil:
		wait := latest.CreatedAt.Add(o.codes.ResendCooldown).Sub(now)
		if wait > 0 {
			return sendOutcome{Outcome: OutcomeCooldown, RetryAfter: wait}, nil
		}
	case errors.Is(err, ErrCodeNotFound):
	default:
		return sendOutcome{}, err
	}

	scope, quota := o.channelQuota(channel)
	res, err := o.limiter.Check(ctx, scope, identity.ID, quota)
	if err != nil {
		return sendOutcome{}, err
	}
	if !res.Allowed {
		return sendOutcome{Outcome: OutcomeRateLimited, RetryAfter: res.RetryAfter}, nil
	}

	plaintext, err := internal.NewNumericCode(o.codes.Length)
	if err != nil {
		return sendOutcome{}, err
	}
	salt, err := internal.NewCodeSalt()
	if err != nil {
		return sendOutcome{}, err
	}

	row := OneTimeCode{
		ID:          uuid.NewString(),
		IdentityID:  identity.ID,
		Purpose:     purpose,
		Recipient:   o.recipient(identity, channel),
		Salt:        salt,
		CodeHash:    internal.HashCode(salt, plaintext),
		MaxAttempts: o.codes.MaxAttempts,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.codes.TTL),
	}

	if err := o.vault.Create(ctx, row); err != nil {
		return sendOutcome{}, err
	}

	if err := o.deliver(ctx, identity, purpose, channel, plaintext); err != nil {
		// The recipient never saw this code; drop the row so the counter
		// state cannot be confused by a retried send.
		if delErr := o.vault.Delete(ctx, row.Key()); delErr != nil && !errors.Is(delErr, ErrCodeNotFound) {
			return sendOutcome{}, delErr
		}
		return sendOutcome{Outcome: OutcomeDeliveryFailed}, nil
	}

	return sendOutcome{Outcome: OutcomeOK, CodeID: row.ID}, nil
}

// Submit checks a submitted code against the newest usable row. The attempt
// is counted before the comparison, so even a correct code costs an attempt
// and a crashed comparison can never grant a free retry.
func (o *oneTimeCodeEngine) Submit(ctx context.Context, identityID string, purpose CodePurpose, submitted string) (submitOutcome, error) {
	key := o.serialKey(identityID, purpose)
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	now := o.clock()

	row, err := o.vault.LatestUsable(ctx, identityID, purpose, now)
	if errors.Is(err, ErrCodeNotFound) {
		return o.classifyMiss(ctx, identityID, purpose, now)
	}
	if err != nil {
		return submitOutcome{}, err
	}

	attempts, err := o.vault.RecordAttempt(ctx, row.Key())
	if err != nil {
		return submitOutcome{}, err
	}

	candidate := internal.HashCode(row.Salt, strings.TrimSpace(submitted))
	if subtle.ConstantTimeCompare(candidate[:], row.CodeHash[:]) == 1 {
		if err := o.vault.MarkUsed(ctx, row.Key(), now); err != nil {
			return submitOutcome{}, err
		}
		return submitOutcome{Outcome: OutcomeOK}, nil
	}

	remaining := row.MaxAttempts - attempts
	if remaining <= 0 {
		if err := o.vault.MarkExpired(ctx, row.Key()); err != nil {
			return submitOutcome{}, err
		}
		return submitOutcome{Outcome: OutcomeCodeExhausted}, nil
	}

	return submitOutcome{Outcome: OutcomeInvalidCode, AttemptsRemaining: remaining}, nil
}

// classifyMiss distinguishes why no usable row matched: never issued,
// already spent, timed out, or attempts exhausted.
func (o *oneTimeCodeEngine) classifyMiss(ctx context.Context, identityID string, purpose CodePurpose, now time.Time) (submitOutcome, error) {
	latest, err := o.vault.Latest(ctx, identityID, purpose)
	if errors.Is(err, ErrCodeNotFound) {
		return submitOutcome{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return submitOutcome{}, err
	}

	switch {
	case latest.Used:
		return submitOutcome{Outcome: OutcomeNotFound}, nil
	case latest.Attempts >= latest.MaxAttempts:
		return submitOutcome{Outcome: OutcomeCodeExhausted}, nil
	case latest.Expired || !now.Before(latest.ExpiresAt):
		return submitOutcome{Outcome: OutcomeCodeExpired}, nil
	default:
		return submitOutcome{Outcome: OutcomeNotFound}, nil
	}
}

// Pending reports whether a usable code exists and how much budget is left
// on it.
func (o *oneTimeCodeEngine) Pending(ctx context.Context, identityID string, purpose CodePurpose) (bool, int, time.Duration, error) {
	now := o.clock()

	row, err := o.vault.LatestUsable(ctx, identityID, purpose, now)
	if errors.Is(err, ErrCodeNotFound) {
		return false, 0, 0, nil
	}
	if err != nil {
		return false, 0, 0, err
	}

	return true, row.MaxAttempts - row.Attempts, row.ExpiresAt.Sub(now), nil
}

// ResendWait reports how long the resend cooldown for (identity, purpose)
// still has to run. Zero means a resend would not be refused for cooldown.
// The computation matches the gate at the top of Send, so reading it never
// consumes anything.
func (o *oneTimeCodeEngine) ResendWait(ctx context.Context, identityID string, purpose CodePurpose) (time.Duration, error) {
	latest, err := o.vault.Latest(ctx, identityID, purpose)
	if errors.Is(err, ErrCodeNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	wait := latest.CreatedAt.Add(o.codes.ResendCooldown).Sub(o.clock())
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

func (o *oneTimeCodeEngine) channelQuota(channel CodeChannel) (string, rate.Quota) {
	if channel == ChannelSMS {
		return "otp_sms", rate.Quota{Limit: o.limits.SMSCodesPerHour, Window: time.Hour}
	}
	return "otp_email", rate.Quota{Limit: o.limits.EmailCodesPerHour, Window: time.Hour}
}

func (o *oneTimeCodeEngine) recipient(identity Identity, channel CodeChannel) string {
	if channel == ChannelSMS {
		return identity.Phone
	}
	return identity.Email
}

func (o *oneTimeCodeEngine) deliver(ctx context.Context, identity Identity, purpose CodePurpose, channel CodeChannel, plaintext string) error {
	minutes := int(o.codes.TTL.Minutes())

	if channel == ChannelSMS {
		text := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", plaintext, minutes)
		return o.notifier.SendSMS(ctx, identity.Phone, text)
	}

	subject := codeSubject(purpose)
	body := fmt.Sprintf("Your code is %s. It expires in %d minutes. If you did not request this, ignore this message.", plaintext, minutes)
	return o.notifier.SendEmail(ctx, identity.Email, subject, body)
}

func codeSubject(purpose CodePurpose) string {
	switch purpose {
	case PurposeEmailVerification:
		return "Verify your email address"
	case PurposeLoginCode:
		return "Your sign-in code"
	case PurposePasswordReset:
		return "Reset your password"
	default:
		return "Your verification code"
	}
}
