package enrollkit

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enrollkit/enrollkit/internal/rate"
	"github.com/enrollkit/enrollkit/password"
	"github.com/enrollkit/enrollkit/token"
)

// Builder defines a public type used by enrollkit APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    IdentityStore
	notifier Notifier
	vault    CodeVault
	limiter  rate.Counter

	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityStore describes the withidentitystore operation and its observable behavior.
//
// WithIdentityStore may return an error when input validation, dependency calls, or security checks fail.
// WithIdentityStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.store = store
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
//
// WithNotifier may return an error when input validation, dependency calls, or security checks fail.
// WithNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotifier(notifier Notifier) *Builder {
	b.notifier = notifier
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCodeVault describes the withcodevault operation and its observable behavior.
//
// WithCodeVault may return an error when input validation, dependency calls, or security checks fail.
// WithCodeVault does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithCodeVault(vault CodeVault) *Builder {
	b.vault = vault
	return b
}

// WithRateCounter describes the withratecounter operation and its observable behavior.
//
// WithRateCounter may return an error when input validation, dependency calls, or security checks fail.
// WithRateCounter does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRateCounter(counter rate.Counter) *Builder {
	b.limiter = counter
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock describes the withclock operation and its observable behavior.
//
// WithClock may return an error when input validation, dependency calls, or security checks fail.
// WithClock does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrEngineNotReady
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, ErrIdentityStoreRequired
	}
	if b.notifier == nil {
		return nil, ErrNotifierRequired
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	vault := b.vault
	limiter := b.limiter
	if b.redis != nil {
		if vault == nil {
			vault = NewRedisCodeVault(b.redis, cfg.Codes.Retention, clock)
		}
		if limiter == nil {
			limiter = rate.NewRedisCounter(b.redis, clock)
		}
	}
	if vault == nil {
		vault = NewMemoryCodeVault()
	}
	if limiter == nil {
		limiter = rate.NewMemoryCounter(clock)
	}

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.Tokens.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Tokens.PrivateKey),
		PublicKey:     cloneBytes(cfg.Tokens.PublicKey),
		Issuer:        cfg.Tokens.Issuer,
		Leeway:        cfg.Tokens.Leeway,
	}, clock)
	if err != nil {
		return nil, err
	}

	totp := newTOTPManager(cfg.TOTP)
	backup := newBackupCodeEngine(cfg.TOTP.BackupCodeCount)

	engine := &Engine{
		config:       cfg,
		store:        b.store,
		notifier:     b.notifier,
		vault:        vault,
		limiter:      limiter,
		codes:        newOneTimeCodeEngine(vault, b.notifier, limiter, cfg.Codes, cfg.RateLimits, clock),
		totp:         totp,
		backup:       backup,
		secondFactor: newSecondFactorEngine(totp, backup),
		tokens:       issuer,
		passwordHash: ph,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		clock:        clock,
	}

	engine.startJanitor()

	b.built = true

	return engine, nil
}
