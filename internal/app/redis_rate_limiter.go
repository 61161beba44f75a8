package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements distributed rate limiting using Redis, with a
// fixed one-minute window per scoped subject. The per-scope limits live on the
// limiter itself; the service only names the scope and the subject. It backs
// the verification and spark-transfer endpoints against retry storms.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limits map[string]int
}

// NewRedisRateLimiter builds a limiter enforcing the given per-minute limits
// by scope. Scopes absent from the map, or mapped to a non-positive limit,
// always allow.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, perMinuteLimits map[string]int) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	limits := make(map[string]int, len(perMinuteLimits))
	for scope, limit := range perMinuteLimits {
		if limit > 0 {
			limits[scope] = limit
		}
	}

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		window: time.Minute,
		limits: limits,
	}
}

func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
) (allowed bool, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil {
		return true, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return true, 0, nil
	}
	limit, configured := r.limits[normalizedScope]
	if !configured {
		return true, 0, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return currentCount <= int64(limit), retryAfter, nil
}
