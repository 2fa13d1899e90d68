package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedisCacheFromClient(cli)
}

func TestRedisCache_SetGet(t *testing.T) {
	c := newTestRedisCache(t)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, ok := c.Get(context.Background(), "k")
	if !ok || string(val) != "v" {
		t.Fatalf("got %s, %v", val, ok)
	}
}

func TestRedisCache_Miss(t *testing.T) {
	c := newTestRedisCache(t)

	_, ok := c.Get(context.Background(), "missing")
	if ok {
		t.Fatal("expected a miss")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	c := newTestRedisCache(t)

	_ = c.Set(context.Background(), "k", []byte("v"), time.Minute)
	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok := c.Get(context.Background(), "k")
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func TestRedisCache_SetDegradesGracefullyOnFailure(t *testing.T) {
	// A closed client's calls fail; Set must still return nil (never
	// surfaced) while Get degrades to a miss.
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	_ = cli.Close()
	c := NewRedisCacheFromClient(cli)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("expected Set to swallow the error, got %v", err)
	}
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("expected a miss against a closed client")
	}
}
