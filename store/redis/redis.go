// Package redis implements the swrcache store contract on top of
// redis/go-redis v9. Pattern deletion uses SCAN+DEL (never KEYS), and Batch
// maps to MULTI/EXEC via TxPipelined so the rate limiter's trim/count/add
// sequence executes as one unit.
package redis

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/swrcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const defaultScanCount = 256

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	scanCount   int64
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool  // set true only if this store exclusively owns the client
	ScanCount   int64 // SCAN page size for DelMatching; 0 => 256
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	sc := cfg.ScanCount
	if sc <= 0 {
		sc = defaultScanCount
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, scanCount: sc}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, store.Unavailable(err)
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0 // non-positive TTL means "no expiry"
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, store.Unavailable(err)
	}
	return true, nil
}

func (s *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	return n, nil
}

// DelMatching walks the keyspace with SCAN and deletes matches in pages, so
// large patterns never block the server the way KEYS would.
func (s *Redis) DelMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		total int64
		page  []string
	)
	iter := s.rdb.Scan(ctx, 0, pattern, s.scanCount).Iterator()
	for iter.Next(ctx) {
		page = append(page, iter.Val())
		if int64(len(page)) >= s.scanCount {
			n, err := s.rdb.Del(ctx, page...).Result()
			if err != nil {
				return total, store.Unavailable(err)
			}
			total += n
			page = page[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return total, store.Unavailable(err)
	}
	if len(page) > 0 {
		n, err := s.rdb.Del(ctx, page...).Result()
		if err != nil {
			return total, store.Unavailable(err)
		}
		total += n
	}
	return total, nil
}

func (s *Redis) ZAdd(ctx context.Context, key, member string, score float64) error {
	err := s.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
	return store.Unavailable(err)
}

func (s *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return store.Unavailable(s.rdb.ZRem(ctx, key, args...).Err())
}

func (s *Redis) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := s.rdb.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	return n, nil
}

func (s *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	return n, nil
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, store.Unavailable(err)
	}
	return ok, nil
}

// batch queues commands and defers integer extraction until after EXEC, same
// pattern as capturing an IntCmd out of a Pipelined closure.
type batch struct {
	apply []func(ctx context.Context, p goredis.Pipeliner)
	post  []func()
}

var _ store.Batch = (*batch)(nil)

func (b *batch) ZRemRangeByScore(key string, min, max float64) {
	b.apply = append(b.apply, func(ctx context.Context, p goredis.Pipeliner) {
		p.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max))
	})
}

func (b *batch) ZCard(key string) *store.IntReply {
	reply := &store.IntReply{}
	var cmd *goredis.IntCmd
	b.apply = append(b.apply, func(ctx context.Context, p goredis.Pipeliner) {
		cmd = p.ZCard(ctx, key)
	})
	b.post = append(b.post, func() { reply.Resolve(cmd.Val()) })
	return reply
}

func (b *batch) ZAdd(key, member string, score float64) {
	b.apply = append(b.apply, func(ctx context.Context, p goredis.Pipeliner) {
		p.ZAdd(ctx, key, goredis.Z{Score: score, Member: member})
	})
}

func (b *batch) ZRem(key string, members ...string) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	b.apply = append(b.apply, func(ctx context.Context, p goredis.Pipeliner) {
		p.ZRem(ctx, key, args...)
	})
}

func (b *batch) Expire(key string, ttl time.Duration) {
	b.apply = append(b.apply, func(ctx context.Context, p goredis.Pipeliner) {
		p.Expire(ctx, key, ttl)
	})
}

func (s *Redis) Batch(ctx context.Context, fn func(store.Batch) error) error {
	b := &batch{}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.apply) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, op := range b.apply {
			op(ctx, p)
		}
		return nil
	})
	if err != nil {
		return store.Unavailable(err)
	}
	for _, resolve := range b.post {
		resolve()
	}
	return nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return store.Unavailable(s.rdb.Ping(ctx).Err())
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
