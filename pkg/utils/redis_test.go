package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestAcquireSlot_RespectsLimit(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	ctx := context.Background()

	for _, holder := range []string{"c1", "c2"} {
		ok, err := AcquireSlot(ctx, rdb, "busy:u1", holder, 2, time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire %s: ok=%v err=%v", holder, ok, err)
		}
	}
	ok, err := AcquireSlot(ctx, rdb, "busy:u1", "c3", 2, time.Minute)
	if err != nil || ok {
		t.Fatalf("expected rejection at limit, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("busy:u1"); ttl <= 0 {
		t.Fatalf("expected ttl on slot key, got %s", ttl)
	}

	if err := ReleaseSlot(ctx, rdb, "busy:u1", "c1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := AcquireSlot(ctx, rdb, "busy:u1", "c3", 2, time.Minute); !ok {
		t.Fatalf("expected slot after release")
	}
}

func TestAcquireSlot_SameHolderIsIdempotent(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, err := AcquireSlot(ctx, rdb, "busy:u3", "c1", 1, time.Minute); err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := AcquireSlot(ctx, rdb, "busy:u3", "c2", 1, time.Minute); ok {
		t.Fatalf("expected other holder rejected")
	}
}

func TestReleaseSlot_IsIdempotentAndDeletesEmptySet(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	ctx := context.Background()

	if ok, _ := AcquireSlot(ctx, rdb, "busy:u2", "c1", 1, time.Minute); !ok {
		t.Fatalf("expected acquire")
	}
	for i := 0; i < 2; i++ {
		if err := ReleaseSlot(ctx, rdb, "busy:u2", "c1"); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if mr.Exists("busy:u2") {
		t.Fatalf("expected slot set removed")
	}
	if err := ReleaseSlot(ctx, rdb, "busy:u2", "unknown"); err != nil {
		t.Fatalf("release unknown holder: %v", err)
	}
}

func TestAcquireSlot_ValidatesArguments(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()
	if _, err := AcquireSlot(ctx, rdb, "", "c1", 1, time.Minute); err == nil {
		t.Fatalf("expected key error")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", "", 1, time.Minute); err == nil {
		t.Fatalf("expected holder error")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", "c1", 0, time.Minute); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", "c1", 1, 0); err == nil {
		t.Fatalf("expected ttl error")
	}
}
