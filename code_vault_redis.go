package enrollkit

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCodeVault is the Redis-backed CodeVault. Each row is one hash keyed
// by (identity, purpose, id); a per-(identity, purpose) list indexes row IDs
// newest first. Attempt counting rides on HINCRBY, so concurrent submissions
// against the same row cannot lose an increment.
//
// Rows keep a TTL of expiry plus the configured retention, after which Redis
// ages them out physically; until then spent rows stay queryable.
type RedisCodeVault struct {
	redis     redis.UniversalClient
	retention time.Duration
	clock     func() time.Time
}

// NewRedisCodeVault creates a RedisCodeVault. Retention controls how long
// spent rows outlive their expiry; a nil clock defaults to time.Now.
func NewRedisCodeVault(redisClient redis.UniversalClient, retention time.Duration, clock func() time.Time) *RedisCodeVault {
	if clock == nil {
		clock = time.Now
	}
	return &RedisCodeVault{redis: redisClient, retention: retention, clock: clock}
}

func (v *RedisCodeVault) indexKey(identityID string, purpose CodePurpose) string {
	return fmt.Sprintf("ekc:idx:%s:%s", identityID, purpose)
}

func (v *RedisCodeVault) rowKey(key CodeKey) string {
	return fmt.Sprintf("ekc:row:%s:%s:%s", key.IdentityID, key.Purpose, key.ID)
}

// Create is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) Create(ctx context.Context, code OneTimeCode) error {
	ttl := code.ExpiresAt.Add(v.retention).Sub(v.clock())
	if ttl <= 0 {
		ttl = time.Minute
	}

	rowKey := v.rowKey(code.Key())
	idxKey := v.indexKey(code.IdentityID, code.Purpose)

	_, err := v.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rowKey, encodeCodeRow(code))
		pipe.PExpire(ctx, rowKey, ttl)
		pipe.LPush(ctx, idxKey, code.ID)
		pipe.PExpire(ctx, idxKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	return nil
}

// Delete is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) Delete(ctx context.Context, key CodeKey) error {
	removed, err := v.redis.Del(ctx, v.rowKey(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	if err := v.redis.LRem(ctx, v.indexKey(key.IdentityID, key.Purpose), 0, key.ID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	if removed == 0 {
		return ErrCodeNotFound
	}
	return nil
}

// Latest is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) Latest(ctx context.Context, identityID string, purpose CodePurpose) (OneTimeCode, error) {
	return v.scanIndex(ctx, identityID, purpose, func(OneTimeCode) bool { return true })
}

// LatestUsable is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) LatestUsable(ctx context.Context, identityID string, purpose CodePurpose, now time.Time) (OneTimeCode, error) {
	return v.scanIndex(ctx, identityID, purpose, func(row OneTimeCode) bool { return row.Usable(now) })
}

// scanIndex walks row IDs newest first and returns the first decodable row
// accepted by keep. IDs whose rows have aged out are skipped.
func (v *RedisCodeVault) scanIndex(ctx context.Context, identityID string, purpose CodePurpose, keep func(OneTimeCode) bool) (OneTimeCode, error) {
	ids, err := v.redis.LRange(ctx, v.indexKey(identityID, purpose), 0, -1).Result()
	if err != nil {
		return OneTimeCode{}, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}

	for _, id := range ids {
		key := CodeKey{IdentityID: identityID, Purpose: purpose, ID: id}
		fields, err := v.redis.HGetAll(ctx, v.rowKey(key)).Result()
		if err != nil {
			return OneTimeCode{}, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
		}
		if len(fields) == 0 {
			continue
		}

		row, err := decodeCodeRow(key, fields)
		if err != nil {
			return OneTimeCode{}, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
		}
		if keep(row) {
			return row, nil
		}
	}

	return OneTimeCode{}, ErrCodeNotFound
}

// RecordAttempt is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) RecordAttempt(ctx context.Context, key CodeKey) (int, error) {
	rowKey := v.rowKey(key)

	exists, err := v.redis.Exists(ctx, rowKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	if exists == 0 {
		return 0, ErrCodeNotFound
	}

	count, err := v.redis.HIncrBy(ctx, rowKey, "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	return int(count), nil
}

// MarkUsed is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) MarkUsed(ctx context.Context, key CodeKey, at time.Time) error {
	return v.setFlags(ctx, key, map[string]interface{}{
		"used":        "1",
		"verified_at": strconv.FormatInt(at.UnixMicro(), 10),
	})
}

// MarkExpired is a method on RedisCodeVault implementing part of the CodeVault port.
func (v *RedisCodeVault) MarkExpired(ctx context.Context, key CodeKey) error {
	return v.setFlags(ctx, key, map[string]interface{}{"expired": "1"})
}

func (v *RedisCodeVault) setFlags(ctx context.Context, key CodeKey, fields map[string]interface{}) error {
	rowKey := v.rowKey(key)

	exists, err := v.redis.Exists(ctx, rowKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	if exists == 0 {
		return ErrCodeNotFound
	}

	if err := v.redis.HSet(ctx, rowKey, fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	return nil
}

// ExpireStale is a method on RedisCodeVault implementing part of the CodeVault port.
// Physical removal is handled by key TTLs; this sweep only raises the expired
// flag on rows past their expiry so audit reads see consistent state.
func (v *RedisCodeVault) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	flagged := 0
	var cursor uint64

	for {
		keys, next, err := v.redis.Scan(ctx, cursor, "ekc:row:*", 128).Result()
		if err != nil {
			return flagged, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
		}

		for _, rowKey := range keys {
			vals, err := v.redis.HMGet(ctx, rowKey, "expires_at", "used", "expired").Result()
			if err != nil {
				return flagged, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
			}
			expiresAt, ok := vals[0].(string)
			if !ok {
				continue
			}
			if used, _ := vals[1].(string); used == "1" {
				continue
			}
			if expired, _ := vals[2].(string); expired == "1" {
				continue
			}

			micros, err := strconv.ParseInt(expiresAt, 10, 64)
			if err != nil {
				continue
			}
			if !now.Before(time.UnixMicro(micros)) {
				if err := v.redis.HSet(ctx, rowKey, "expired", "1").Err(); err != nil {
					return flagged, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
				}
				flagged++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return flagged, nil
}

/*
====================================
ROW CODEC
====================================
*/

func encodeCodeRow(code OneTimeCode) map[string]interface{} {
	return map[string]interface{}{
		"recipient":    code.Recipient,
		"salt":         base64.StdEncoding.EncodeToString(code.Salt),
		"hash":         base64.StdEncoding.EncodeToString(code.CodeHash[:]),
		"attempts":     strconv.Itoa(code.Attempts),
		"max_attempts": strconv.Itoa(code.MaxAttempts),
		"created_at":   strconv.FormatInt(code.CreatedAt.UnixMicro(), 10),
		"expires_at":   strconv.FormatInt(code.ExpiresAt.UnixMicro(), 10),
		"verified_at":  strconv.FormatInt(verifiedMicro(code.VerifiedAt), 10),
		"used":         boolFlag(code.Used),
		"expired":      boolFlag(code.Expired),
	}
}

func decodeCodeRow(key CodeKey, fields map[string]string) (OneTimeCode, error) {
	row := OneTimeCode{
		ID:         key.ID,
		IdentityID: key.IdentityID,
		Purpose:    key.Purpose,
		Recipient:  fields["recipient"],
		Used:       fields["used"] == "1",
		Expired:    fields["expired"] == "1",
	}

	salt, err := base64.StdEncoding.DecodeString(fields["salt"])
	if err != nil {
		return OneTimeCode{}, fmt.Errorf("decode salt: %v", err)
	}
	row.Salt = salt

	hash, err := base64.StdEncoding.DecodeString(fields["hash"])
	if err != nil || len(hash) != len(row.CodeHash) {
		return OneTimeCode{}, fmt.Errorf("decode hash: invalid digest")
	}
	copy(row.CodeHash[:], hash)

	if row.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return OneTimeCode{}, fmt.Errorf("decode attempts: %v", err)
	}
	if row.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return OneTimeCode{}, fmt.Errorf("decode max_attempts: %v", err)
	}

	for _, field := range []struct {
		name string
		dst  *time.Time
	}{
		{"created_at", &row.CreatedAt},
		{"expires_at", &row.ExpiresAt},
		{"verified_at", &row.VerifiedAt},
	} {
		raw, ok := fields[field.name]
		if !ok {
			return OneTimeCode{}, fmt.Errorf("decode %s: missing", field.name)
		}
		micros, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return OneTimeCode{}, fmt.Errorf("decode %s: %v", field.name, err)
		}
		if micros != 0 {
			*field.dst = time.UnixMicro(micros)
		}
	}

	return row, nil
}

func verifiedMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
