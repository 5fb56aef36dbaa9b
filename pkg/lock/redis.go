package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "consult:lock:"

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	client redis.UniversalClient
	poll   time.Duration
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, poll: 25 * time.Millisecond}
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{client: r.client, key: keyPrefix + key, token: token}, nil
}

func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		l, err := r.TryLock(ctx, key, ttl)
		if !errors.Is(err, ErrLocked) {
			return l, err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
