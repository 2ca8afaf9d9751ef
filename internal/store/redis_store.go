package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore[T any] struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func (s *RedisStore[T]) Get(ctx context.Context, key string) (*T, error) {
	blob, err := s.rdb.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var obj T
	if err := json.Unmarshal(blob, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (s *RedisStore[T]) Set(ctx context.Context, key string, val T, expiresIn time.Duration) error {
	blob, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyPrefix+key, blob, expiresIn).Err()
}

func (s *RedisStore[T]) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.keyPrefix+key).Err()
}

func NewRedisStore[T any](db redis.UniversalClient, keyPrefix string) *RedisStore[T] {
	return &RedisStore[T]{
		rdb:       db,
		keyPrefix: keyPrefix,
	}
}
