package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediavault/internal/vault"
)

// touchScript applies the whole session state machine server-side so the
// read-then-write check is atomic per user key. The key's TTL is the
// window; expiry of the key is expiry of the session.
// Returns 0 = new session, 1 = reuse, 2 = throttled.
const touchScript = `
local v = redis.call('GET', KEYS[1])
if not v then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 0
end
if v == ARGV[1] then
  return 1
end
return 2
`

// RedisLedger keeps redemption sessions in Redis, for deployments where
// several resolver processes share one throttling window.
type RedisLedger struct {
	client *redis.Client
	window time.Duration
	script *redis.Script
}

var _ vault.Ledger = (*RedisLedger)(nil)

// NewRedisLedger connects to Redis and verifies the connection.
func NewRedisLedger(addr, password string, db int, window time.Duration) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisLedger{
		client: client,
		window: window,
		script: redis.NewScript(touchScript),
	}, nil
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}

func (l *RedisLedger) Touch(ctx context.Context, userID int64, token string, now time.Time) (vault.SessionOutcome, error) {
	res, err := l.script.Run(ctx, l.client,
		[]string{sessionKey(userID)}, token, l.window.Milliseconds()).Int()
	if err != nil {
		return vault.SessionNew, fmt.Errorf("session touch: %w", err)
	}

	switch res {
	case 0:
		return vault.SessionNew, nil
	case 1:
		return vault.SessionReuse, nil
	default:
		return vault.SessionThrottled, nil
	}
}

// Get reconstructs the session from the key's value and remaining TTL.
func (l *RedisLedger) Get(ctx context.Context, userID int64) (*vault.Session, error) {
	key := sessionKey(userID)

	token, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("session ttl: %w", err)
	}

	return &vault.Session{
		UserID:      userID,
		LastToken:   token,
		FirstUsedAt: time.Now().Add(ttl - l.window),
	}, nil
}

// Close releases the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
