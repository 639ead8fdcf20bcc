package prefs

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	// Prepended to every key so several applications can share a database.
	Prefix string
}

// Backend storing preferences as plain Redis strings.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	close  func() error
}

// Connects to Redis.
func OpenRedis(cfg RedisConfig) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return &Redis{rdb: rdb, prefix: cfg.Prefix, close: rdb.Close}
}

// Wraps an existing client. Closing the backend does not close the client.
func NewRedis(rdb redis.Cmdable, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, close: func() error { return nil }}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}

func (r *Redis) Close() error {
	return r.close()
}
