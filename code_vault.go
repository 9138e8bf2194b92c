package enrollkit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// OneTimeCode is one persisted code row. Rows are append-only: issuing a new
// code never deletes its predecessors, and spent rows are flagged rather than
// removed so the attempt history stays reconstructable.
type OneTimeCode struct {
	ID          string
	IdentityID  string
	Purpose     CodePurpose
	Recipient   string
	Salt        []byte
	CodeHash    [32]byte
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	VerifiedAt  time.Time
	Used        bool
	Expired     bool
}

// Key returns the vault key addressing this row.
func (c OneTimeCode) Key() CodeKey {
	return CodeKey{IdentityID: c.IdentityID, Purpose: c.Purpose, ID: c.ID}
}

// Usable reports whether the row can still satisfy a verification at t.
func (c OneTimeCode) Usable(t time.Time) bool {
	return !c.Used && !c.Expired && c.Attempts < c.MaxAttempts && t.Before(c.ExpiresAt)
}

// CodeKey addresses one code row inside a vault.
type CodeKey struct {
	IdentityID string
	Purpose    CodePurpose
	ID         string
}

// CodeVault is the persistence port for one-time code rows. Lookups that
// match nothing return ErrCodeNotFound; any other error is an infrastructure
// fault.
//
// RecordAttempt must be atomic with respect to concurrent calls on the same
// row and returns the attempt count after the increment.
type CodeVault interface {
	Create(ctx context.Context, code OneTimeCode) error
	Delete(ctx context.Context, key CodeKey) error
	Latest(ctx context.Context, identityID string, purpose CodePurpose) (OneTimeCode, error)
	LatestUsable(ctx context.Context, identityID string, purpose CodePurpose, now time.Time) (OneTimeCode, error)
	RecordAttempt(ctx context.Context, key CodeKey) (int, error)
	MarkUsed(ctx context.Context, key CodeKey, at time.Time) error
	MarkExpired(ctx context.Context, key CodeKey) error
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

/*
====================================
MEMORY VAULT
====================================
*/

// MemoryCodeVault is an in-process CodeVault for single-node deployments and
// tests. Rows are grouped per (identity, purpose) and kept newest-last.
type MemoryCodeVault struct {
	mu   sync.Mutex
	rows map[string][]*OneTimeCode
}

// NewMemoryCodeVault creates an empty memory-backed vault.
func NewMemoryCodeVault() *MemoryCodeVault {
	return &MemoryCodeVault{rows: make(map[string][]*OneTimeCode)}
}

func memoryVaultKey(identityID string, purpose CodePurpose) string {
	return identityID + ":" + purpose.String()
}

// Create is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) Create(ctx context.Context, code OneTimeCode) error {
	row := code
	row.Salt = cloneBytes(code.Salt)

	v.mu.Lock()
	defer v.mu.Unlock()

	key := memoryVaultKey(code.IdentityID, code.Purpose)
	v.rows[key] = append(v.rows[key], &row)
	return nil
}

// Delete is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) Delete(ctx context.Context, key CodeKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bucket := memoryVaultKey(key.IdentityID, key.Purpose)
	rows := v.rows[bucket]
	for i, row := range rows {
		if row.ID == key.ID {
			v.rows[bucket] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return ErrCodeNotFound
}

// Latest is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) Latest(ctx context.Context, identityID string, purpose CodePurpose) (OneTimeCode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows := v.rows[memoryVaultKey(identityID, purpose)]
	if len(rows) == 0 {
		return OneTimeCode{}, ErrCodeNotFound
	}
	return *rows[len(rows)-1], nil
}

// LatestUsable is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) LatestUsable(ctx context.Context, identityID string, purpose CodePurpose, now time.Time) (OneTimeCode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows := v.rows[memoryVaultKey(identityID, purpose)]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Usable(now) {
			return *rows[i], nil
		}
	}
	return OneTimeCode{}, ErrCodeNotFound
}

// RecordAttempt is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) RecordAttempt(ctx context.Context, key CodeKey) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	row := v.find(key)
	if row == nil {
		return 0, ErrCodeNotFound
	}
	row.Attempts++
	return row.Attempts, nil
}

// MarkUsed is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) MarkUsed(ctx context.Context, key CodeKey, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	row := v.find(key)
	if row == nil {
		return ErrCodeNotFound
	}
	row.Used = true
	row.VerifiedAt = at
	return nil
}

// MarkExpired is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) MarkExpired(ctx context.Context, key CodeKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	row := v.find(key)
	if row == nil {
		return ErrCodeNotFound
	}
	row.Expired = true
	return nil
}

// ExpireStale is a method on MemoryCodeVault implementing part of the CodeVault port.
func (v *MemoryCodeVault) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	flagged := 0
	for _, rows := range v.rows {
		for _, row := range rows {
			if !row.Used && !row.Expired && !now.Before(row.ExpiresAt) {
				row.Expired = true
				flagged++
			}
		}
	}
	return flagged, nil
}

// Rows returns a copy of every stored row for an identity and purpose,
// oldest first. Intended for tests and diagnostics.
func (v *MemoryCodeVault) Rows(identityID string, purpose CodePurpose) []OneTimeCode {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows := v.rows[memoryVaultKey(identityID, purpose)]
	out := make([]OneTimeCode, len(rows))
	for i, row := range rows {
		out[i] = *row
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (v *MemoryCodeVault) find(key CodeKey) *OneTimeCode {
	for _, row := range v.rows[memoryVaultKey(key.IdentityID, key.Purpose)] {
		if row.ID == key.ID {
			return row
		}
	}
	return nil
}
