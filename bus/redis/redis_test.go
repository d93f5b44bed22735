package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tr, err := New(client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil); err != ErrNilClient {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	sub, err := tr.Subscribe(ctx, "swrcache:invalidate")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	want := []byte("payload-bytes")
	if err := tr.Publish(ctx, "swrcache:invalidate", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := sub.Receive(rctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Receive = %q, want %q", got, want)
	}
}

func TestSubscribeIsChannelScoped(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	sub, err := tr.Subscribe(ctx, "chan-a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := tr.Publish(ctx, "chan-b", []byte("other")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := tr.Publish(ctx, "chan-a", []byte("mine")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := sub.Receive(rctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != "mine" {
		t.Fatalf("Receive = %q, want %q", got, "mine")
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	sub, err := tr.Subscribe(ctx, "quiet")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Receive(rctx); err == nil {
		t.Fatalf("Receive should fail once the context expires")
	}
}

func TestSubscribeFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tr, err := New(client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mr.Close()
	if _, err := tr.Subscribe(context.Background(), "ch"); err == nil {
		t.Fatalf("Subscribe should surface the connection failure")
	}
}
