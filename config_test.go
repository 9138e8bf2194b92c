package enrollkit

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigValidatesWithKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to demand a signing key")
	}

	cfg.Tokens.PrivateKey = []byte("test-signing-key-0123456789abcdef")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults plus a key to validate, got %v", err)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"code length too short", func(c *Config) { c.Codes.Length = 3 }},
		{"code length too long", func(c *Config) { c.Codes.Length = 11 }},
		{"zero code TTL", func(c *Config) { c.Codes.TTL = 0 }},
		{"zero max attempts", func(c *Config) { c.Codes.MaxAttempts = 0 }},
		{"odd TOTP digits", func(c *Config) { c.TOTP.Digits = 7 }},
		{"excessive TOTP skew", func(c *Config) { c.TOTP.Skew = 3 }},
		{"zero access TTL", func(c *Config) { c.Tokens.AccessTTL = 0 }},
		{"unknown signing method", func(c *Config) { c.Tokens.SigningMethod = "rs256" }},
		{"ed25519 without keys", func(c *Config) { c.Tokens.SigningMethod = "ed25519"; c.Tokens.PublicKey = nil }},
		{"tiny argon2 memory", func(c *Config) { c.Password.Memory = 1024 }},
		{"zero argon2 passes", func(c *Config) { c.Password.Time = 0 }},
		{"zero login quota", func(c *Config) { c.RateLimits.LoginPerHour = 0 }},
		{"backoff cap below base", func(c *Config) {
			c.RateLimits.ProgressiveBase = time.Minute
			c.RateLimits.ProgressiveMax = time.Second
		}},
		{"zero lock duration", func(c *Config) { c.Lockout.LockDuration = 0 }},
		{"audit without buffer", func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }},
	}

	for _, tc := range cases {
		cfg := testConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation to fail", tc.name)
		}
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	if !errors.Is(err, ErrIdentityStoreRequired) {
		t.Fatalf("expected ErrIdentityStoreRequired, got %v", err)
	}

	_, err = New().
		WithConfig(testConfig()).
		WithIdentityStore(NewMemoryIdentityStore()).
		Build()
	if !errors.Is(err, ErrNotifierRequired) {
		t.Fatalf("expected ErrNotifierRequired, got %v", err)
	}

	_, err = New().
		WithIdentityStore(NewMemoryIdentityStore()).
		WithNotifier(&captureNotifier{}).
		Build()
	if err == nil {
		t.Fatal("expected the default config to fail validation without a signing key")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().
		WithConfig(testConfig()).
		WithIdentityStore(NewMemoryIdentityStore()).
		WithNotifier(&captureNotifier{})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected a second Build to fail, got %v", err)
	}
}

func TestBuilderConfigIsCopied(t *testing.T) {
	cfg := testConfig()
	b := New().
		WithConfig(cfg).
		WithIdentityStore(NewMemoryIdentityStore()).
		WithNotifier(&captureNotifier{})

	// Mutating the caller's key material after WithConfig must not reach the
	// engine.
	cfg.Tokens.PrivateKey[0] ^= 0xff

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if engine.config.Tokens.PrivateKey[0] == cfg.Tokens.PrivateKey[0] {
		t.Fatal("expected the builder to hold its own copy of the signing key")
	}
}
