package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window counter per subject. The window starts with
// the first hit and the counter expires with it.
type RateLimiter struct {
	store     *Store
	limit     int64
	window    time.Duration
	keyPrefix string
	script    *redis.Script
}

func (s *Store) NewRateLimiter(limit int, window time.Duration, keyPrefix string) (*RateLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "gengenie:ratelimit"
	}
	return &RateLimiter{
		store:     s,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		script: redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`),
	}, nil
}

func (l *RateLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	key := fmt.Sprintf("%s:%s", l.keyPrefix, subject)

	windowMS := max(l.window.Milliseconds(), 1)
	raw, err := l.script.Run(ctx, l.store.rdb, []string{key}, windowMS).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("invalid rate limit response")
	}
	count, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse count: %w", err)
	}
	ttlMS, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse ttl: %w", err)
	}

	if count <= l.limit {
		return Decision{Allowed: true, Remaining: l.limit - count}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(ttlMS) * time.Millisecond}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
