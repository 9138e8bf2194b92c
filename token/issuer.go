package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod defines a public type used by enrollkit APIs.
//
// SigningMethod instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SigningMethod string

const (
	// MethodHS256 is an exported constant or variable used by the enrollment engine.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 is an exported constant or variable used by the enrollment engine.
	MethodEd25519 SigningMethod = "ed25519"
)

// Type discriminates the two token kinds the issuer mints. A refresh token
// can never pass validation where an access token is expected, and vice
// versa, regardless of signature validity.
type Type string

const (
	// TypeAccess is an exported constant or variable used by the enrollment engine.
	TypeAccess Type = "access"
	// TypeRefresh is an exported constant or variable used by the enrollment engine.
	TypeRefresh Type = "refresh"
)

var (
	// ErrInvalid is an exported constant or variable used by the enrollment engine.
	ErrInvalid = errors.New("token invalid")
	// ErrExpired is an exported constant or variable used by the enrollment engine.
	ErrExpired = errors.New("token expired")
	// ErrWrongType is an exported constant or variable used by the enrollment engine.
	ErrWrongType = errors.New("token type mismatch")
)

// Config defines a public type used by enrollkit APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims defines a public type used by enrollkit APIs.
//
// Claims instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer mints and validates the stateless session tokens of the engine.
type Issuer struct {
	config Config
	clock  func() time.Time
}

// NewIssuer describes the newissuer operation and its observable behavior.
//
// NewIssuer may return an error when input validation, dependency calls, or security checks fail.
// NewIssuer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewIssuer(cfg Config, clock func() time.Time) (*Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if clock == nil {
		clock = time.Now
	}

	return &Issuer{config: cfg, clock: clock}, nil
}

// IssueAccess mints a short-lived access token for the subject.
func (i *Issuer) IssueAccess(subject string) (string, error) {
	return i.issue(subject, TypeAccess, i.config.AccessTTL)
}

// IssueRefresh mints a long-lived refresh token for the subject.
func (i *Issuer) IssueRefresh(subject string) (string, error) {
	return i.issue(subject, TypeRefresh, i.config.RefreshTTL)
}

func (i *Issuer) issue(subject string, typ Type, ttl time.Duration) (string, error) {
	now := i.clock()

	claims := Claims{
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(i.method(), claims)

	signKey, err := i.signKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (i *Issuer) Validate(tokenStr string, expected Type) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithTimeFunc(i.clock),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalid
	}
	if claims.TokenType != string(expected) {
		return "", ErrWrongType
	}
	if claims.Subject == "" {
		return "", ErrInvalid
	}

	return claims.Subject, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	switch i.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (i *Issuer) signKey() (interface{}, error) {
	switch i.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(i.config.PrivateKey)
	default:
		return i.config.PrivateKey, nil
	}
}

func (i *Issuer) verifyKey() (interface{}, error) {
	switch i.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(i.config.PublicKey)
	default:
		return i.config.PrivateKey, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
