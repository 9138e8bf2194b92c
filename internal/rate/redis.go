package rate

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits or blocks one event atomically across every
// quota window of a check. KEYS holds one window key per quota; ARGV is the
// now timestamp, the member, then a (window, limit) pair per key. Scores and
// windows are in microseconds. All windows are evaluated before anything is
// recorded, so a blocked check leaves no trace in any window. Returns {1, 0}
// when admitted, {0, retryMicros} when blocked.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]

for i = 1, #KEYS do
	local window = tonumber(ARGV[2 * i + 1])
	local limit = tonumber(ARGV[2 * i + 2])

	redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now - window)
	local count = redis.call('ZCARD', KEYS[i])
	if count >= limit then
		local oldest = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
		local retry = tonumber(oldest[2]) + window - now
		if retry < 0 then
			retry = 0
		end
		return {0, retry}
	end
end

for i = 1, #KEYS do
	local window = tonumber(ARGV[2 * i + 1])
	redis.call('ZADD', KEYS[i], now, member)
	redis.call('PEXPIRE', KEYS[i], math.ceil(window / 1000))
end
return {1, 0}
`)

// memberSeq disambiguates ZSET members created in the same microsecond.
var memberSeq atomic.Uint64

// RedisCounter is the Redis-backed Counter. Event windows are ZSETs scored
// by microsecond timestamps; admission runs under a Lua script so concurrent
// checks against the same key cannot both claim the last slot.
type RedisCounter struct {
	redis redis.UniversalClient
	clock func() time.Time
}

// NewRedisCounter creates a RedisCounter on the given client. A nil clock
// defaults to time.Now.
func NewRedisCounter(redisClient redis.UniversalClient, clock func() time.Time) *RedisCounter {
	if clock == nil {
		clock = time.Now
	}
	return &RedisCounter{redis: redisClient, clock: clock}
}

// Check is a method on RedisCounter implementing part of the Counter port.
func (r *RedisCounter) Check(ctx context.Context, scope, identifier string, quotas ...Quota) (Result, error) {
	if len(quotas) == 0 {
		return Result{Allowed: true}, nil
	}

	now := r.clock().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(memberSeq.Add(1), 10)

	keys := make([]string, 0, len(quotas))
	args := make([]interface{}, 0, 2+2*len(quotas))
	args = append(args, now, member)
	for _, q := range quotas {
		keys = append(keys, eventKey(scope, identifier, q.Window))
		args = append(args, q.Window.Microseconds(), q.Limit)
	}

	raw, err := slidingWindowScript.Run(ctx, r.redis, keys, args...).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrBackendUnavailable)
	}
	allowed, _ := reply[0].(int64)
	if allowed == 0 {
		retryMicros, _ := reply[1].(int64)
		return Result{Allowed: false, RetryAfter: time.Duration(retryMicros) * time.Microsecond}, nil
	}

	return Result{Allowed: true}, nil
}

// CheckProgressive is a method on RedisCounter implementing part of the Counter port.
func (r *RedisCounter) CheckProgressive(ctx context.Context, scope, identifier string, base, max time.Duration) (Result, error) {
	now := r.clock()
	key := failureKey(scope, identifier)
	cutoff := now.Add(-failureRetention).UnixMicro()

	if err := r.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	last, err := r.redis.ZRangeWithScores(ctx, key, -1, -1).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(last) == 0 {
		return Result{Allowed: true}, nil
	}

	count, err := r.redis.ZCard(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	delay := progressiveDelay(int(count), base, max)
	lastAt := time.UnixMicro(int64(last[0].Score))
	nextAllowed := lastAt.Add(delay)
	if now.Before(nextAllowed) {
		return Result{Allowed: false, RetryAfter: nextAllowed.Sub(now)}, nil
	}

	return Result{Allowed: true}, nil
}

// RecordFailure is a method on RedisCounter implementing part of the Counter port.
func (r *RedisCounter) RecordFailure(ctx context.Context, scope, identifier string) error {
	now := r.clock().UnixMicro()
	key := failureKey(scope, identifier)
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(memberSeq.Add(1), 10)

	if err := r.redis.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := r.redis.PExpire(ctx, key, failureRetention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Reset is a method on RedisCounter implementing part of the Counter port.
func (r *RedisCounter) Reset(ctx context.Context, scope, identifier string, quotas ...Quota) error {
	keys := []string{failureKey(scope, identifier)}
	for _, q := range quotas {
		keys = append(keys, eventKey(scope, identifier, q.Window))
	}

	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Prune is a method on RedisCounter implementing part of the Counter port.
// Redis keys carry their own TTLs, so there is nothing to sweep.
func (r *RedisCounter) Prune(ctx context.Context, olderThan time.Duration) error {
	return nil
}
