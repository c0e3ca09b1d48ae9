package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	backend, err := NewRedisBackend(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisBackend failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend, s
}

func TestRedisBackendSetGet(t *testing.T) {
	backend, s := setupTestRedis(t)
	ctx := context.Background()

	if err := backend.Set(ctx, "branch:d:b", []byte("hello"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !s.Exists("folio:branch:d:b") {
		t.Fatal("expected key to be stored under the folio: prefix")
	}

	got, err := backend.Get(ctx, "branch:d:b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestRedisBackendExpiry(t *testing.T) {
	backend, s := setupTestRedis(t)
	ctx := context.Background()

	if err := backend.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := backend.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestRedisBackendDelete(t *testing.T) {
	backend, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := backend.Set(ctx, k, []byte(k), time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}
	if err := backend.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := backend.Delete(ctx); err != nil {
		t.Fatalf("empty Delete failed: %v", err)
	}

	for _, k := range []string{"a", "b"} {
		if _, err := backend.Get(ctx, k); !errors.Is(err, ErrMiss) {
			t.Errorf("expected %s to be deleted, got %v", k, err)
		}
	}
	if _, err := backend.Get(ctx, "c"); err != nil {
		t.Errorf("expected c to survive, got %v", err)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	backend, s := setupTestRedis(t)
	s.Close()

	if _, err := backend.Get(context.Background(), "k"); err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("expected a transport error, got %v", err)
	}
	if err := backend.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail once redis is down")
	}
}

func TestNewRedisBackendRejectsBadURL(t *testing.T) {
	if _, err := NewRedisBackend(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}
