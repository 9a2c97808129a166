package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 2 * time.Minute
	defaultRetryWait = 100 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

// releaseScript deletes the key only if this holder still owns it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a Locker shared by every instance pointing at the same Redis. The
// TTL bounds how long a crashed holder can block a session.
type Redis struct {
	client    redisAPI
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	newToken  func() string
}

type RedisOption func(*Redis)

func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

func WithRetryWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryWait = d
		}
	}
}

func NewRedis(client redisAPI, prefix string, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock: redis client must not be nil")
	}
	r := &Redis{
		client:    client,
		prefix:    strings.TrimSpace(prefix),
		ttl:       defaultLockTTL,
		retryWait: defaultRetryWait,
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewRedisClient connects to addr, which may be host:port or a redis:// URL.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("lock: parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: connect to redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	name := r.prefix + key
	token := r.newToken()
	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", name, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() { r.release(name, token) })
			}, nil
		}

		t := time.NewTimer(r.retryWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Redis) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	// A failed release leaves the key to expire after the TTL.
	_ = r.client.Eval(ctx, releaseScript, []string{name}, token).Err()
}

var _ Locker = (*Redis)(nil)
