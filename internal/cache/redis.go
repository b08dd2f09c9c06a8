package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/cloudtype/internal/model"
)

var _ StatusCache = (*Redis)(nil)

const (
	redisKeyPrefix = "cloudtype:account:"
	redisGenPrefix = "cloudtype:account-gen:"
)

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[1].
// A missing generation key counts as 0.
var setIfGeneration = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

// Redis is a StatusCache shared between server replicas. Entries are JSON
// with a Redis-side TTL, so expiry needs no sweeper.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFromURL parses a redis:// URL, connects and pings.
func NewRedisFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connecting to redis at %s: %w", opts.Addr, err)
	}
	return NewRedis(client, ttl), nil
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func redisGenKey(userID string) string {
	return redisGenPrefix + userID
}

func (r *Redis) Get(ctx context.Context, userID string) (model.AccountStatus, bool, error) {
	data, err := r.client.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.AccountStatus{}, false, nil
		}
		return model.AccountStatus{}, false, fmt.Errorf("cache: get %s: %w", userID, err)
	}

	var status model.AccountStatus
	if err := json.Unmarshal(data, &status); err != nil {
		// A corrupt entry is treated as a miss; the caller reloads it.
		return model.AccountStatus{}, false, nil
	}
	return status, true, nil
}

func (r *Redis) Generation(ctx context.Context, userID string) (uint64, error) {
	gen, err := r.client.Get(ctx, redisGenKey(userID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("cache: generation %s: %w", userID, err)
	}
	return gen, nil
}

func (r *Redis) Set(ctx context.Context, status model.AccountStatus, gen uint64) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("cache: encoding status %s: %w", status.UserID, err)
	}
	keys := []string{redisKey(status.UserID), redisGenKey(status.UserID)}
	err = setIfGeneration.Run(ctx, r.client, keys,
		strconv.FormatUint(gen, 10), data, r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("cache: set %s: %w", status.UserID, err)
	}
	return nil
}

// Invalidate bumps the generation and drops the entry in one transaction.
// The generation key has no TTL so a late Set can never see it reset.
func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, redisGenKey(userID))
		pipe.Del(ctx, redisKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", userID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
