package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps values under a key prefix. A non-zero expiration lets redis
// drop records the cart store would reject as expired anyway.
type Redis struct {
	client     *redis.Client
	prefix     string
	expiration time.Duration
}

func NewRedis(client *redis.Client, prefix string, expiration time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, expiration: expiration}
}

func (r *Redis) Get(c context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(c, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed redis get with error=%w", err)
	}
	return data, nil
}

func (r *Redis) Set(c context.Context, key string, value []byte) error {
	if err := r.client.Set(c, r.key(key), value, r.expiration).Err(); err != nil {
		return fmt.Errorf("failed redis set with error=%w", err)
	}
	return nil
}

func (r *Redis) Delete(c context.Context, key string) error {
	if err := r.client.Del(c, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed redis delete with error=%w", err)
	}
	return nil
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}
