package enrollkit

import (
	"context"
	"time"
)

// RegistrationStatus identifies how far an identity has advanced through the
// enrollment pipeline. The zero value is RegistrationPendingEmail.
type RegistrationStatus uint8

const (
	// RegistrationPendingEmail is an exported constant or variable used by the enrollment engine.
	RegistrationPendingEmail RegistrationStatus = iota
	// RegistrationPendingPhone is an exported constant or variable used by the enrollment engine.
	RegistrationPendingPhone
	// RegistrationPendingSecondFactor is an exported constant or variable used by the enrollment engine.
	RegistrationPendingSecondFactor
	// RegistrationCompleted is an exported constant or variable used by the enrollment engine.
	RegistrationCompleted
)

// String is a method on RegistrationStatus implementing part of the enrollment engine API.
func (s RegistrationStatus) String() string {
	switch s {
	case RegistrationPendingEmail:
		return "pending_email"
	case RegistrationPendingPhone:
		return "pending_phone"
	case RegistrationPendingSecondFactor:
		return "pending_2fa"
	case RegistrationCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// CodePurpose distinguishes the independent one-time-code streams an identity
// can hold at the same time. Codes of different purposes never interfere.
type CodePurpose uint8

const (
	// PurposeEmailVerification is an exported constant or variable used by the enrollment engine.
	PurposeEmailVerification CodePurpose = iota
	// PurposePhoneVerification is an exported constant or variable used by the enrollment engine.
	PurposePhoneVerification
	// PurposeLoginCode is an exported constant or variable used by the enrollment engine.
	PurposeLoginCode
	// PurposePasswordReset is an exported constant or variable used by the enrollment engine.
	PurposePasswordReset
)

// String is a method on CodePurpose implementing part of the enrollment engine API.
func (p CodePurpose) String() string {
	switch p {
	case PurposeEmailVerification:
		return "email_verification"
	case PurposePhoneVerification:
		return "phone_verification"
	case PurposeLoginCode:
		return "login_code"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// CodeChannel names the delivery transport for a one-time code.
type CodeChannel uint8

const (
	// ChannelEmail is an exported constant or variable used by the enrollment engine.
	ChannelEmail CodeChannel = iota
	// ChannelSMS is an exported constant or variable used by the enrollment engine.
	ChannelSMS
)

// String is a method on CodeChannel implementing part of the enrollment engine API.
func (c CodeChannel) String() string {
	if c == ChannelSMS {
		return "sms"
	}
	return "email"
}

// Outcome classifies the expected (non-infrastructure) result of an engine
// operation. Infrastructure faults are reported through the error return
// instead; an Outcome other than OutcomeOK is data, not an error.
type Outcome uint8

const (
	// OutcomeOK is an exported constant or variable used by the enrollment engine.
	OutcomeOK Outcome = iota
	// OutcomeValidation is an exported constant or variable used by the enrollment engine.
	OutcomeValidation
	// OutcomeConflict is an exported constant or variable used by the enrollment engine.
	OutcomeConflict
	// OutcomeNotFound is an exported constant or variable used by the enrollment engine.
	OutcomeNotFound
	// OutcomeRateLimited is an exported constant or variable used by the enrollment engine.
	OutcomeRateLimited
	// OutcomeCooldown is an exported constant or variable used by the enrollment engine.
	OutcomeCooldown
	// OutcomeInvalidCode is an exported constant or variable used by the enrollment engine.
	OutcomeInvalidCode
	// OutcomeCodeExpired is an exported constant or variable used by the enrollment engine.
	OutcomeCodeExpired
	// OutcomeCodeExhausted is an exported constant or variable used by the enrollment engine.
	OutcomeCodeExhausted
	// OutcomeStepOutOfOrder is an exported constant or variable used by the enrollment engine.
	OutcomeStepOutOfOrder
	// OutcomeDeliveryFailed is an exported constant or variable used by the enrollment engine.
	OutcomeDeliveryFailed
	// OutcomeInvalidCredentials is an exported constant or variable used by the enrollment engine.
	OutcomeInvalidCredentials
	// OutcomeAccountLocked is an exported constant or variable used by the enrollment engine.
	OutcomeAccountLocked
	// OutcomeAccountInactive is an exported constant or variable used by the enrollment engine.
	OutcomeAccountInactive
	// OutcomeSecondFactorRequired is an exported constant or variable used by the enrollment engine.
	OutcomeSecondFactorRequired
	// OutcomeTokenInvalid is an exported constant or variable used by the enrollment engine.
	OutcomeTokenInvalid
	// OutcomeTokenExpired is an exported constant or variable used by the enrollment engine.
	OutcomeTokenExpired
)

// String is a method on Outcome implementing part of the enrollment engine API.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeValidation:
		return "validation_failed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeCooldown:
		return "cooldown_active"
	case OutcomeInvalidCode:
		return "invalid_code"
	case OutcomeCodeExpired:
		return "code_expired"
	case OutcomeCodeExhausted:
		return "code_exhausted"
	case OutcomeStepOutOfOrder:
		return "step_out_of_order"
	case OutcomeDeliveryFailed:
		return "delivery_failed"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeAccountLocked:
		return "account_locked"
	case OutcomeAccountInactive:
		return "account_inactive"
	case OutcomeSecondFactorRequired:
		return "second_factor_required"
	case OutcomeTokenInvalid:
		return "token_invalid"
	case OutcomeTokenExpired:
		return "token_expired"
	default:
		return "unknown"
	}
}

// Identity is the engine's view of one enrolled (or enrolling) principal.
// The engine never owns the backing schema; an IdentityStore adapter maps
// this struct onto whatever storage the host application uses.
type Identity struct {
	ID               string
	Handle           string
	Email            string
	Phone            string
	PasswordHash     string
	Status           RegistrationStatus
	EmailVerified    bool
	PhoneVerified    bool
	TwoFactorEnabled bool
	Active           bool
	FailedLogins     int
	LockedUntil      time.Time
	CreatedAt        time.Time
	EmailVerifiedAt  time.Time
	PhoneVerifiedAt  time.Time
	LastLoginAt      time.Time
}

// Locked reports whether the identity is under an active login lockout at t.
func (i Identity) Locked(t time.Time) bool {
	return !i.LockedUntil.IsZero() && t.Before(i.LockedUntil)
}

// CreateIdentityInput carries the fields the engine supplies when persisting a
// brand-new identity.
type CreateIdentityInput struct {
	Handle        string
	Email         string
	Phone         string
	PasswordHash  string
	Status        RegistrationStatus
	EmailVerified bool
	PhoneVerified bool
	Active        bool
	CreatedAt     time.Time
}

// RegistrationUpdate is a wholesale write of the enrollment-progress fields of
// an identity. The engine always reads the identity first and carries forward
// the fields it does not change.
type RegistrationUpdate struct {
	Status           RegistrationStatus
	EmailVerified    bool
	PhoneVerified    bool
	TwoFactorEnabled bool
	Active           bool
	EmailVerifiedAt  time.Time
	PhoneVerifiedAt  time.Time
}

// SecondFactorMethod is the persisted state of an identity's configured second
// factor: a shared TOTP secret plus the hashes of its single-use backup codes.
// Re-running setup replaces the method wholesale; methods never accumulate.
type SecondFactorMethod struct {
	IdentityID  string
	Kind        string
	Secret      []byte
	BackupCodes [][32]byte
	Active      bool
	Verified    bool
	CreatedAt   time.Time
	VerifiedAt  time.Time
}

// IdentityStore is the persistence port the host application implements.
// Lookups return ErrIdentityNotFound (or ErrSecondFactorNotFound) when no row
// matches; any other error is treated as an infrastructure fault.
type IdentityStore interface {
	GetIdentityByID(ctx context.Context, id string) (Identity, error)
	GetIdentityByHandle(ctx context.Context, handle string) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	CreateIdentity(ctx context.Context, input CreateIdentityInput) (Identity, error)
	UpdateRegistration(ctx context.Context, id string, upd RegistrationUpdate) (Identity, error)
	UpdateLoginState(ctx context.Context, id string, failedLogins int, lockedUntil, lastLogin time.Time) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
	GetSecondFactor(ctx context.Context, identityID string) (SecondFactorMethod, error)
	ReplaceSecondFactor(ctx context.Context, method SecondFactorMethod) error
	ActivateSecondFactor(ctx context.Context, identityID string, verifiedAt time.Time) error
	ConsumeBackupCode(ctx context.Context, identityID string, hash [32]byte) (bool, error)
}

// Notifier delivers one-time codes out of band. A returned error is treated as
// a transient delivery failure: the engine compensates by discarding the code
// it just stored, so a retried send never races a dead code row.
type Notifier interface {
	SendEmail(ctx context.Context, address, subject, body string) error
	SendSMS(ctx context.Context, number, text string) error
}

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Handle   string
	Email    string
	Phone    string
	Password string
}

// RegisterResult reports the expected outcome of a registration attempt.
type RegisterResult struct {
	Success    bool
	Outcome    Outcome
	Message    string
	IdentityID string
	NextStep   string
	RetryAfter time.Duration
}

// VerifyResult reports the expected outcome of submitting or requesting a
// one-time code, or of confirming a second-factor setup.
type VerifyResult struct {
	Success           bool
	Outcome           Outcome
	Message           string
	NextStep          string
	AttemptsRemaining int
	RetryAfter        time.Duration
}

// LoginResult reports the expected outcome of a login, a second-factor
// submission, or a token refresh. Tokens are only populated on full success.
type LoginResult struct {
	Success           bool
	Outcome           Outcome
	Message           string
	IdentityID        string
	SecondFactor      bool
	AvailableMethods  []string
	MethodUsed        string
	AccessToken       string
	RefreshToken      string
	RetryAfter        time.Duration
}

// SecondFactorSetupResult carries the provisioning material produced by
// Engine.SetupSecondFactor. Secret and BackupCodes are shown to the caller
// exactly once; the engine persists only hashes of the backup codes.
type SecondFactorSetupResult struct {
	Success         bool
	Outcome         Outcome
	Message         string
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// StatusResult is a read-only snapshot of an identity's enrollment progress.
type StatusResult struct {
	IdentityID       string
	Status           string
	EmailVerified    bool
	PhoneVerified    bool
	TwoFactorEnabled bool
	Active           bool
	NextStep         string
	PendingCode      bool
	CodeAttemptsLeft int
	CodeExpiresIn    time.Duration
	ResendWait       time.Duration
}
