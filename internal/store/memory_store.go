package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/gofiber/storage/memory/v2"
)

type MemoryStore[T any] struct {
	storage *memory.Storage
}

func (s *MemoryStore[T]) Get(ctx context.Context, key string) (*T, error) {
	blob, err := s.storage.Get(key)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, ErrNotFound
	}

	var obj T
	err = gob.NewDecoder(bytes.NewReader(blob)).Decode(&obj)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (s *MemoryStore[T]) Set(ctx context.Context, key string, val T, expiresIn time.Duration) error {
	blob := new(bytes.Buffer)
	if err := gob.NewEncoder(blob).Encode(val); err != nil {
		return err
	}
	return s.storage.Set(key, blob.Bytes(), expiresIn)
}

func (s *MemoryStore[T]) Del(ctx context.Context, key string) error {
	return s.storage.Delete(key)
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		storage: memory.New(memory.Config{GCInterval: 10 * time.Second}),
	}
}
