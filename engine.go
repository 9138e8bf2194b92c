package enrollkit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/enrollkit/enrollkit/internal/rate"
	"github.com/enrollkit/enrollkit/password"
	"github.com/enrollkit/enrollkit/token"
)

const (
	opRegister             = "register"
	opVerifyEmail          = "verify_email"
	opVerifyPhone          = "verify_phone"
	opResendCode           = "resend_code"
	opSetupSecondFactor    = "setup_2fa"
	opConfirmSecondFactor  = "confirm_2fa"
	opLogin                = "login"
	opLoginSecondFactor    = "login_2fa"
	opRequestLoginCode     = "request_login_code"
	opRefresh              = "refresh"
	opPasswordResetRequest = "password_reset_request"
	opPasswordResetConfirm = "password_reset_confirm"
)

const (
	methodPassword  = "password"
	methodEmailCode = "email_code"
	methodSMSCode   = "sms_code"
)

// janitorInterval paces the background sweep that flags stale code rows and
// prunes limiter state.
const janitorInterval = time.Minute

// Engine defines a public type used by enrollkit APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	store        IdentityStore
	notifier     Notifier
	vault        CodeVault
	limiter      rate.Counter
	codes        *oneTimeCodeEngine
	totp         *totpManager
	backup       *backupCodeEngine
	secondFactor *secondFactorEngine
	tokens       *token.Issuer
	passwordHash *password.Hasher
	audit        *auditDispatcher
	metrics      *Metrics
	clock        func() time.Time
	janitorStop  chan struct{}
	janitorDone  chan struct{}
}

// Close describes the close operation and its observable behavior.
//
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.janitorStop != nil {
		close(e.janitorStop)
		<-e.janitorDone
		e.janitorStop = nil
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// emitAttempt appends one record to the attempt trail. Reason carries the
// outcome classification for failed attempts and is empty on success.
func (e *Engine) emitAttempt(ctx context.Context, operation, method, identityID, handle string, success bool, reason string) {
	if e == nil || e.audit == nil {
		return
	}

	e.audit.Emit(ctx, AttemptRecord{
		ID:         uuid.NewString(),
		Timestamp:  e.now().UTC(),
		Operation:  operation,
		Method:     method,
		IdentityID: identityID,
		Handle:     handle,
		Success:    success,
		Reason:     reason,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
	})
}

func (e *Engine) startJanitor() {
	e.janitorStop = make(chan struct{})
	e.janitorDone = make(chan struct{})

	go func() {
		defer close(e.janitorDone)

		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, _ = e.vault.ExpireStale(ctx, e.now())
				_ = e.limiter.Prune(ctx, failurePruneHorizon)
				cancel()
			case <-e.janitorStop:
				return
			}
		}
	}()
}

// failurePruneHorizon keeps limiter state a little past the largest window
// the engine ever checks (the daily registration quota).
const failurePruneHorizon = 25 * time.Hour
