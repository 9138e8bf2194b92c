// Package main runs a scripted end-to-end walkthrough of the enrollkit engine.
//
// It builds an engine against Redis (REDIS_ADDR, or an embedded miniredis when
// unset), registers an identity, verifies email and phone with the delivered
// codes, enrolls a TOTP authenticator, confirms it with a backup code, signs
// in through the second-factor step, and refreshes the issued tokens.
//
// Configuration is read from the environment (a .env file is honored when
// present):
//
//	REDIS_ADDR            redis host:port; empty starts an embedded miniredis
//	REDIS_PASSWORD        redis auth, optional
//	ENROLLKIT_SECRET      HS256 signing key (default: demo-only key)
//	ENROLLKIT_ISSUER      JWT issuer claim (default: enrollkit-demo)
//	ENROLLKIT_METRICS     enable counters (default: true)
//
// Run:
//
//	go run ./cmd/enrollkit-demo
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	enrollkit "github.com/enrollkit/enrollkit"
	"github.com/enrollkit/enrollkit/metrics/export/internaldefs"
)

type demoConfig struct {
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	Secret        string `env:"ENROLLKIT_SECRET" envDefault:"demo-only-key-not-for-production"`
	Issuer        string `env:"ENROLLKIT_ISSUER" envDefault:"enrollkit-demo"`
	Metrics       bool   `env:"ENROLLKIT_METRICS" envDefault:"true"`
}

var codePattern = regexp.MustCompile(`\b\d{4,10}\b`)

// consoleNotifier prints deliveries and remembers the last code per recipient
// so the walkthrough can submit it.
type consoleNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func newConsoleNotifier() *consoleNotifier {
	return &consoleNotifier{codes: make(map[string]string)}
}

func (n *consoleNotifier) SendEmail(_ context.Context, address, subject, body string) error {
	fmt.Printf("  [email to %s] %s: %s\n", address, subject, body)
	n.remember(address, body)
	return nil
}

func (n *consoleNotifier) SendSMS(_ context.Context, number, text string) error {
	fmt.Printf("  [sms to %s] %s\n", number, text)
	n.remember(number, text)
	return nil
}

func (n *consoleNotifier) remember(recipient, body string) {
	if code := codePattern.FindString(body); code != "" {
		n.mu.Lock()
		n.codes[recipient] = code
		n.mu.Unlock()
	}
}

func (n *consoleNotifier) lastCode(recipient string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[recipient]
}

func main() {
	_ = godotenv.Load()

	var cfg demoConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	addr := cfg.RedisAddr
	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatal("miniredis start failed", zap.Error(err))
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using embedded miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	if cleanup != nil {
		defer cleanup()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.RedisPassword,
	})
	defer client.Close()

	engineCfg := enrollkit.DefaultConfig()
	engineCfg.Tokens.PrivateKey = []byte(cfg.Secret)
	engineCfg.Tokens.Issuer = cfg.Issuer
	engineCfg.Metrics.Enabled = cfg.Metrics
	engineCfg.Audit.Enabled = true

	notifier := newConsoleNotifier()

	engine, err := enrollkit.New().
		WithConfig(engineCfg).
		WithIdentityStore(enrollkit.NewMemoryIdentityStore()).
		WithNotifier(notifier).
		WithRedis(client).
		WithAuditSink(enrollkit.NewZapSink(logger)).
		Build()
	if err != nil {
		logger.Fatal("engine build failed", zap.Error(err))
	}
	defer engine.Close()

	ctx := enrollkit.WithClientIP(context.Background(), "203.0.113.7")

	const (
		email    = "alice@example.com"
		phone    = "+15550100"
		password = "correct-horse-battery"
	)

	fmt.Println("\n== register ==")
	reg, err := engine.Register(ctx, enrollkit.RegisterRequest{
		Handle:   "alice",
		Email:    email,
		Phone:    phone,
		Password: password,
	})
	must(logger, err)
	fmt.Printf("  outcome=%s next=%s identity=%s\n", reg.Outcome, reg.NextStep, reg.IdentityID)

	fmt.Println("\n== verify email ==")
	ver, err := engine.SubmitEmailCode(ctx, reg.IdentityID, notifier.lastCode(email))
	must(logger, err)
	fmt.Printf("  outcome=%s next=%s\n", ver.Outcome, ver.NextStep)

	fmt.Println("\n== verify phone ==")
	ver, err = engine.SubmitPhoneCode(ctx, reg.IdentityID, notifier.lastCode(phone))
	must(logger, err)
	fmt.Printf("  outcome=%s next=%s\n", ver.Outcome, ver.NextStep)

	fmt.Println("\n== set up authenticator ==")
	setup, err := engine.SetupSecondFactor(ctx, reg.IdentityID)
	must(logger, err)
	fmt.Printf("  outcome=%s uri=%s backup codes=%d\n", setup.Outcome, setup.ProvisioningURI, len(setup.BackupCodes))

	// A real client scans the URI and submits a TOTP code; the walkthrough
	// confirms with one of the backup codes instead.
	fmt.Println("\n== confirm authenticator (backup code) ==")
	confirm, err := engine.ConfirmSecondFactor(ctx, reg.IdentityID, setup.BackupCodes[0])
	must(logger, err)
	fmt.Printf("  outcome=%s next=%s\n", confirm.Outcome, confirm.NextStep)

	fmt.Println("\n== login ==")
	login, err := engine.Login(ctx, "alice", password)
	must(logger, err)
	fmt.Printf("  outcome=%s methods=%v\n", login.Outcome, login.AvailableMethods)

	fmt.Println("\n== second factor via email code ==")
	lc, err := engine.RequestLoginCode(ctx, login.IdentityID, "email")
	must(logger, err)
	fmt.Printf("  code request outcome=%s\n", lc.Outcome)

	final, err := engine.SubmitSecondFactor(ctx, login.IdentityID, notifier.lastCode(email), "email")
	must(logger, err)
	fmt.Printf("  outcome=%s method=%s\n", final.Outcome, final.MethodUsed)
	fmt.Printf("  access=%.24s...\n", final.AccessToken)

	fmt.Println("\n== refresh ==")
	refreshed, err := engine.RefreshTokens(ctx, final.RefreshToken)
	must(logger, err)
	fmt.Printf("  outcome=%s\n", refreshed.Outcome)

	if cfg.Metrics {
		fmt.Println("\n== counters ==")
		snap := engine.MetricsSnapshot()
		for _, def := range internaldefs.CounterDefs {
			if v := snap.Counters[def.ID]; v > 0 {
				fmt.Printf("  %s = %d\n", def.Name, v)
			}
		}
	}
}

func must(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("demo step failed", zap.Error(err))
	}
}
