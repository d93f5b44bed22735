package redis

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/swrcache/store"
)

func newTestStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: client, CloseClient: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err != ErrNilClient {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}

	want := []byte{0x00, 0xff, 'a', 'b'} // binary-safe round trip
	if ok, err := s.Set(ctx, "k", want, time.Minute); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != string(want) {
		t.Fatalf("Get = %q, want %q", got, want)
	}

	n, err := s.Del(ctx, "k", "missing")
	if err != nil || n != 1 {
		t.Fatalf("Del = %d, %v; want 1, nil", n, err)
	}
	if n, err := s.Del(ctx); err != nil || n != 0 {
		t.Fatalf("Del with no keys = %d, %v", n, err)
	}
}

func TestSetTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if _, err := s.Set(ctx, "ttl", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("ttl"); ttl != 2*time.Second {
		t.Fatalf("stored TTL = %v, want 2s", ttl)
	}

	// ttl <= 0 stores without expiry.
	if _, err := s.Set(ctx, "forever", []byte("v"), -1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("forever"); ttl != 0 {
		t.Fatalf("unexpired key has TTL %v", ttl)
	}

	mr.FastForward(3 * time.Second)
	if _, ok, _ := s.Get(ctx, "ttl"); ok {
		t.Fatalf("key should have expired")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Fatalf("unexpired key should survive")
	}
}

func TestDelMatching(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i := 0; i < 10; i++ {
		if _, err := s.Set(ctx, fmt.Sprintf("product:1:field%d", i), []byte("v"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if _, err := s.Set(ctx, "product:2:summary", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := s.DelMatching(ctx, "product:1:*")
	if err != nil || n != 10 {
		t.Fatalf("DelMatching = %d, %v; want 10, nil", n, err)
	}
	if _, ok, _ := s.Get(ctx, "product:2:summary"); !ok {
		t.Fatalf("non-matching key should survive")
	}

	// No matches is not an error.
	if n, err := s.DelMatching(ctx, "absent:*"); err != nil || n != 0 {
		t.Fatalf("DelMatching (none) = %d, %v", n, err)
	}
}

// Forces the paged-delete path by scanning with a tiny page size.
func TestDelMatchingPaged(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: client, CloseClient: true, ScanCount: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(ctx)

	for i := 0; i < 20; i++ {
		if _, err := s.Set(ctx, fmt.Sprintf("sess:%d", i), []byte("v"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	n, err := s.DelMatching(ctx, "sess:*")
	if err != nil || n != 20 {
		t.Fatalf("DelMatching = %d, %v; want 20, nil", n, err)
	}
}

func TestOrderedSetOps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i := 1; i <= 5; i++ {
		if err := s.ZAdd(ctx, "win", fmt.Sprintf("m%d", i), float64(i*100)); err != nil {
			t.Fatalf("ZAdd: %v", err)
		}
	}
	if n, err := s.ZCard(ctx, "win"); err != nil || n != 5 {
		t.Fatalf("ZCard = %d, %v; want 5", n, err)
	}

	// Trim everything at or below score 300.
	n, err := s.ZRemRangeByScore(ctx, "win", math.Inf(-1), 300)
	if err != nil || n != 3 {
		t.Fatalf("ZRemRangeByScore = %d, %v; want 3", n, err)
	}
	if n, _ := s.ZCard(ctx, "win"); n != 2 {
		t.Fatalf("ZCard after trim = %d, want 2", n)
	}

	if err := s.ZRem(ctx, "win", "m4"); err != nil {
		t.Fatalf("ZRem: %v", err)
	}
	if n, _ := s.ZCard(ctx, "win"); n != 1 {
		t.Fatalf("ZCard after ZRem = %d, want 1", n)
	}
	if err := s.ZRem(ctx, "win"); err != nil {
		t.Fatalf("ZRem with no members: %v", err)
	}

	if ok, err := s.Expire(ctx, "win", time.Minute); err != nil || !ok {
		t.Fatalf("Expire = %v, %v; want true", ok, err)
	}
	if ok, err := s.Expire(ctx, "absent", time.Minute); err != nil || ok {
		t.Fatalf("Expire on absent key = %v, %v; want false", ok, err)
	}
}

func TestBatchResolvesCountAfterExec(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	for i := 1; i <= 4; i++ {
		if err := s.ZAdd(ctx, "rl", fmt.Sprintf("m%d", i), float64(i)); err != nil {
			t.Fatalf("ZAdd: %v", err)
		}
	}

	var count *store.IntReply
	err := s.Batch(ctx, func(b store.Batch) error {
		b.ZRemRangeByScore("rl", math.Inf(-1), 2) // drops m1, m2
		count = b.ZCard("rl")
		b.ZAdd("rl", "m5", 5)
		b.Expire("rl", time.Minute)
		return nil
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	// Count observed after the trim, before the add.
	if got := count.Val(); got != 2 {
		t.Fatalf("ZCard in batch = %d, want 2", got)
	}
	if n, _ := s.ZCard(ctx, "rl"); n != 3 {
		t.Fatalf("ZCard after batch = %d, want 3", n)
	}
	if ttl := mr.TTL("rl"); ttl != time.Minute {
		t.Fatalf("batch Expire TTL = %v, want 1m", ttl)
	}
}

func TestBatchPropagatesCallbackError(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	sentinel := fmt.Errorf("bad recording")
	if err := s.Batch(ctx, func(store.Batch) error { return sentinel }); err != sentinel {
		t.Fatalf("Batch error = %v, want %v", err, sentinel)
	}

	// An empty batch is a no-op, not an error.
	if err := s.Batch(ctx, func(store.Batch) error { return nil }); err != nil {
		t.Fatalf("empty Batch: %v", err)
	}
}

func TestUnavailableClassification(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: client, CloseClient: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(ctx)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping while up: %v", err)
	}

	mr.Close()

	if err := s.Ping(ctx); !store.IsUnavailable(err) {
		t.Fatalf("Ping while down should be unavailable, got %v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !store.IsUnavailable(err) {
		t.Fatalf("Get while down should be unavailable, got %v", err)
	}
	if _, err := s.Set(ctx, "k", []byte("v"), 0); !store.IsUnavailable(err) {
		t.Fatalf("Set while down should be unavailable, got %v", err)
	}
	if err := s.Batch(ctx, func(b store.Batch) error {
		b.ZAdd("k", "m", 1)
		return nil
	}); !store.IsUnavailable(err) {
		t.Fatalf("Batch while down should be unavailable, got %v", err)
	}
}
