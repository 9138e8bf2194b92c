package enrollkit

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
)

/* ==================== MEMORY IDENTITY STORE ==================== */

// MemoryIdentityStore defines a public type used by enrollkit APIs.
//
// MemoryIdentityStore instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
//
// It keeps all identities in process memory and is meant for development,
// examples, and tests. Production deployments implement [IdentityStore]
// against their own database.
type MemoryIdentityStore struct {
	mu sync.Mutex

	byID     map[string]*Identity
	byHandle map[string]string
	byEmail  map[string]string

	secondFactors map[string]*SecondFactorMethod
}

// NewMemoryIdentityStore describes the newmemoryidentitystore operation and its observable behavior.
//
// NewMemoryIdentityStore may return an error when input validation, dependency calls, or security checks fail.
// NewMemoryIdentityStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byID:          make(map[string]*Identity),
		byHandle:      make(map[string]string),
		byEmail:       make(map[string]string),
		secondFactors: make(map[string]*SecondFactorMethod),
	}
}

// GetIdentityByID describes the getidentitybyid operation and its observable behavior.
//
// GetIdentityByID may return an error when input validation, dependency calls, or security checks fail.
// GetIdentityByID does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) GetIdentityByID(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return *identity, nil
}

// GetIdentityByHandle describes the getidentitybyhandle operation and its observable behavior.
//
// GetIdentityByHandle may return an error when input validation, dependency calls, or security checks fail.
// GetIdentityByHandle does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) GetIdentityByHandle(_ context.Context, handle string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHandle[handle]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return *s.byID[id], nil
}

// GetIdentityByEmail describes the getidentitybyemail operation and its observable behavior.
//
// GetIdentityByEmail may return an error when input validation, dependency calls, or security checks fail.
// GetIdentityByEmail does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) GetIdentityByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return *s.byID[id], nil
}

// CreateIdentity describes the createidentity operation and its observable behavior.
//
// CreateIdentity may return an error when input validation, dependency calls, or security checks fail.
// CreateIdentity does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) CreateIdentity(_ context.Context, input CreateIdentityInput) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHandle[input.Handle]; exists {
		return Identity{}, ErrIdentityExists
	}
	if _, exists := s.byEmail[input.Email]; exists {
		return Identity{}, ErrIdentityExists
	}

	identity := &Identity{
		ID:               uuid.NewString(),
		Handle:           input.Handle,
		Email:            input.Email,
		Phone:            input.Phone,
		PasswordHash:     input.PasswordHash,
		Status:           input.Status,
		EmailVerified:    input.EmailVerified,
		PhoneVerified:    input.PhoneVerified,
		TwoFactorEnabled: false,
		Active:           input.Active,
		CreatedAt:        input.CreatedAt,
	}

	s.byID[identity.ID] = identity
	s.byHandle[identity.Handle] = identity.ID
	s.byEmail[identity.Email] = identity.ID

	return *identity, nil
}

// UpdateRegistration describes the updateregistration operation and its observable behavior.
//
// UpdateRegistration may return an error when input validation, dependency calls, or security checks fail.
// UpdateRegistration does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) UpdateRegistration(_ context.Context, id string, upd RegistrationUpdate) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}

	identity.Status = upd.Status
	identity.EmailVerified = upd.EmailVerified
	identity.PhoneVerified = upd.PhoneVerified
	identity.TwoFactorEnabled = upd.TwoFactorEnabled
	identity.Active = upd.Active
	identity.EmailVerifiedAt = upd.EmailVerifiedAt
	identity.PhoneVerifiedAt = upd.PhoneVerifiedAt

	return *identity, nil
}

// UpdateLoginState describes the updateloginstate operation and its observable behavior.
//
// UpdateLoginState may return an error when input validation, dependency calls, or security checks fail.
// UpdateLoginState does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) UpdateLoginState(_ context.Context, id string, failedLogins int, lockedUntil, lastLogin time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}

	identity.FailedLogins = failedLogins
	identity.LockedUntil = lockedUntil
	identity.LastLoginAt = lastLogin
	return nil
}

// UpdatePasswordHash describes the updatepasswordhash operation and its observable behavior.
//
// UpdatePasswordHash may return an error when input validation, dependency calls, or security checks fail.
// UpdatePasswordHash does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}

	identity.PasswordHash = hash
	return nil
}

// GetSecondFactor describes the getsecondfactor operation and its observable behavior.
//
// GetSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// GetSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) GetSecondFactor(_ context.Context, identityID string) (SecondFactorMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.secondFactors[identityID]
	if !ok {
		return SecondFactorMethod{}, ErrSecondFactorNotFound
	}
	return cloneSecondFactor(*method), nil
}

// ReplaceSecondFactor describes the replacesecondfactor operation and its observable behavior.
//
// ReplaceSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// ReplaceSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) ReplaceSecondFactor(_ context.Context, method SecondFactorMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[method.IdentityID]; !ok {
		return ErrIdentityNotFound
	}

	stored := cloneSecondFactor(method)
	s.secondFactors[method.IdentityID] = &stored
	return nil
}

// ActivateSecondFactor describes the activatesecondfactor operation and its observable behavior.
//
// ActivateSecondFactor may return an error when input validation, dependency calls, or security checks fail.
// ActivateSecondFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) ActivateSecondFactor(_ context.Context, identityID string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.secondFactors[identityID]
	if !ok {
		return ErrSecondFactorNotFound
	}

	method.Active = true
	method.Verified = true
	method.VerifiedAt = verifiedAt
	return nil
}

// ConsumeBackupCode describes the consumebackupcode operation and its observable behavior.
//
// ConsumeBackupCode may return an error when input validation, dependency calls, or security checks fail.
// ConsumeBackupCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryIdentityStore) ConsumeBackupCode(_ context.Context, identityID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.secondFactors[identityID]
	if !ok {
		return false, ErrSecondFactorNotFound
	}

	for i, candidate := range method.BackupCodes {
		if subtle.ConstantTimeCompare(candidate[:], hash[:]) == 1 {
			method.BackupCodes = append(method.BackupCodes[:i], method.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func cloneSecondFactor(method SecondFactorMethod) SecondFactorMethod {
	method.Secret = append([]byte(nil), method.Secret...)
	method.BackupCodes = append([][32]byte(nil), method.BackupCodes...)
	return method
}
