package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps entries in process memory. It is used when no Redis
// URL is configured.
type MemoryBackend struct {
	items *gocache.Cache
}

func NewMemoryBackend(defaultTTL time.Duration) *MemoryBackend {
	return &MemoryBackend{items: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := b.items.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	stored := v.([]byte)
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	b.items.Set(key, stored, ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		b.items.Delete(k)
	}
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error {
	return nil
}

func (b *MemoryBackend) Close() error {
	b.items.Flush()
	return nil
}
