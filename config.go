package enrollkit

import (
	"errors"
	"time"
)

// Config defines a public type used by enrollkit APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Codes        CodeConfig
	TOTP         TOTPConfig
	Tokens       TokenConfig
	Password     PasswordConfig
	RateLimits   RateLimitConfig
	Lockout      LockoutConfig
	Verification VerificationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
CODE CONFIG
====================================
*/

// CodeConfig defines a public type used by enrollkit APIs.
//
// CodeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CodeConfig struct {
	Length         int
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	Retention      time.Duration // how long spent rows stay queryable for audit
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by enrollkit APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer          string
	Digits          int
	Period          int
	Skew            int
	BackupCodeCount int
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by enrollkit APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default), "ed25519" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by enrollkit APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by enrollkit APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	LoginPerHour        int
	EmailCodesPerHour   int
	SMSCodesPerHour     int
	RegistrationsPerDay int
	VerifyPerHour       int
	ProgressiveBase     time.Duration
	ProgressiveMax      time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines a public type used by enrollkit APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	MaxFailedLogins int
	LockDuration    time.Duration
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig defines a public type used by enrollkit APIs.
//
// VerificationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type VerificationConfig struct {
	RequireEmail        bool
	RequirePhone        bool
	RequireSecondFactor bool
}

// SkipAll reports whether every verification step is administratively
// disabled, in which case registration activates the identity immediately.
func (v VerificationConfig) SkipAll() bool {
	return !v.RequireEmail && !v.RequirePhone && !v.RequireSecondFactor
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by enrollkit APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by enrollkit APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Codes: CodeConfig{
			Length:         6,
			TTL:            5 * time.Minute,
			MaxAttempts:    3,
			ResendCooldown: 1 * time.Minute,
			Retention:      24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:          "enrollkit",
			Digits:          6,
			Period:          30,
			Skew:            1,
			BackupCodeCount: 10,
		},
		Tokens: TokenConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "enrollkit",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		RateLimits: RateLimitConfig{
			LoginPerHour:        10,
			EmailCodesPerHour:   6,
			SMSCodesPerHour:     3,
			RegistrationsPerDay: 5,
			VerifyPerHour:       6,
			ProgressiveBase:     5 * time.Minute,
			ProgressiveMax:      30 * time.Minute,
		},
		Lockout: LockoutConfig{
			MaxFailedLogins: 5,
			LockDuration:    15 * time.Minute,
		},
		Verification: VerificationConfig{
			RequireEmail:        true,
			RequirePhone:        true,
			RequireSecondFactor: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.PrivateKey = cloneBytes(cfg.Tokens.PrivateKey)
	out.Tokens.PublicKey = cloneBytes(cfg.Tokens.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Codes
	if c.Codes.Length < 4 || c.Codes.Length > 10 {
		return errors.New("code Length must be between 4 and 10")
	}
	if c.Codes.TTL <= 0 {
		return errors.New("code TTL must be > 0")
	}
	if c.Codes.MaxAttempts <= 0 {
		return errors.New("code MaxAttempts must be > 0")
	}
	if c.Codes.ResendCooldown < 0 {
		return errors.New("code ResendCooldown must be >= 0")
	}
	if c.Codes.Retention < 0 {
		return errors.New("code Retention must be >= 0")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}

	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("token AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("token RefreshTTL must be > 0")
	}
	if c.Tokens.SigningMethod != "hs256" && c.Tokens.SigningMethod != "ed25519" {
		return errors.New("unsupported token signing method")
	}
	if c.Tokens.SigningMethod == "hs256" && len(c.Tokens.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.Tokens.SigningMethod == "ed25519" && len(c.Tokens.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Tokens.SigningMethod == "ed25519" && len(c.Tokens.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Tokens.Leeway < 0 {
		return errors.New("token Leeway must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("password Memory must be >= 8192 KB")
	}
	if c.Password.Time == 0 {
		return errors.New("password Time must be > 0")
	}
	if c.Password.Parallelism == 0 {
		return errors.New("password Parallelism must be > 0")
	}
	if c.Password.SaltLength < 8 {
		return errors.New("password SaltLength must be >= 8")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("password MinLength must be >= 1")
	}

	// Rate limits
	if c.RateLimits.LoginPerHour <= 0 {
		return errors.New("rate limit LoginPerHour must be > 0")
	}
	if c.RateLimits.EmailCodesPerHour <= 0 {
		return errors.New("rate limit EmailCodesPerHour must be > 0")
	}
	if c.RateLimits.SMSCodesPerHour <= 0 {
		return errors.New("rate limit SMSCodesPerHour must be > 0")
	}
	if c.RateLimits.RegistrationsPerDay <= 0 {
		return errors.New("rate limit RegistrationsPerDay must be > 0")
	}
	if c.RateLimits.VerifyPerHour <= 0 {
		return errors.New("rate limit VerifyPerHour must be > 0")
	}
	if c.RateLimits.ProgressiveBase <= 0 {
		return errors.New("rate limit ProgressiveBase must be > 0")
	}
	if c.RateLimits.ProgressiveMax < c.RateLimits.ProgressiveBase {
		return errors.New("rate limit ProgressiveMax must be >= ProgressiveBase")
	}

	// Lockout
	if c.Lockout.MaxFailedLogins <= 0 {
		return errors.New("lockout MaxFailedLogins must be > 0")
	}
	if c.Lockout.LockDuration <= 0 {
		return errors.New("lockout LockDuration must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
