// Package redis carries invalidation events over Redis pub/sub.
package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/swrcache/bus"
)

var ErrNilClient = errors.New("redis transport: nil client")

type Transport struct {
	rdb goredis.UniversalClient
}

var _ bus.Transport = (*Transport)(nil)

// New wraps an existing client. The caller owns the client lifecycle.
func New(client goredis.UniversalClient) (*Transport, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Transport{rdb: client}, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.rdb.Publish(ctx, channel, payload).Err()
}

func (t *Transport) Subscribe(ctx context.Context, channel string) (bus.Subscription, error) {
	ps := t.rdb.Subscribe(ctx, channel)
	// force the SUBSCRIBE round-trip so connection failures surface here,
	// not on the first Receive
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &subscription{ps: ps}, nil
}

type subscription struct {
	ps *goredis.PubSub
}

func (s *subscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *subscription) Close() error { return s.ps.Close() }
