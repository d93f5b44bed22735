package swrcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/wire"
	st "github.com/unkn0wn-root/swrcache/store"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultMaxRefreshes = 64
)

type cache[V any] struct {
	ns      string
	store   st.Store
	codec   c.Codec[V]
	log     Logger
	hooks   Hooks
	enabled bool

	ttl          time.Duration
	maxRefreshes int

	// single-flight guard for background refreshes. Held only for the
	// membership check-and-set, never across fetch or write-back.
	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	refreshWg sync.WaitGroup
	closeOnce sync.Once

	now func() time.Time // injectable clock
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("swrcache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("swrcache: codec is required")
	}

	cc := &cache[V]{
		ns:       opts.Namespace,
		store:    opts.Store,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.ttl = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	cc.maxRefreshes = coalesce[int](opts.MaxConcurrentRefreshes, defaultMaxRefreshes)

	return cc, nil
}

func (cc *cache[V]) GetOrSet(ctx context.Context, key string, fetch FetchFunc[V], ttl, stale time.Duration) (V, bool, time.Time, error) {
	var zero V
	if fetch == nil {
		return zero, false, time.Time{}, fmt.Errorf("swrcache: fetch is required")
	}
	ttl, stale = cc.normalize(ttl, stale)

	if !cc.enabled {
		v, err := fetch(ctx)
		return v, false, time.Time{}, err
	}

	k := cc.storageKey(key)
	raw, ok, err := cc.store.Get(ctx, k)
	if err != nil {
		// store down: serve a direct fetch and never cache the result
		cc.hooks.FailOpen("get", err)
		cc.log.Warn("store get failed; direct fetch", Fields{"key": key, "err": err})
		v, ferr := fetch(ctx)
		return v, false, time.Time{}, ferr
	}
	if !ok {
		return cc.populate(ctx, key, fetch, ttl, stale)
	}

	ent, derr := wire.Decode(raw)
	if derr != nil {
		_, _ = cc.store.Del(ctx, k) // self-heal corrupt
		cc.hooks.SelfHeal(k, "corrupt")
		return cc.populate(ctx, key, fetch, ttl, stale)
	}

	now := cc.now()

	// hard expiry wins over staleness
	if now.After(ent.ExpiresAt()) {
		_, _ = cc.store.Del(ctx, k)
		cc.hooks.SelfHeal(k, "expired")
		return cc.populate(ctx, key, fetch, ttl, stale)
	}

	v, verr := cc.codec.Decode(ent.Payload)
	if verr != nil {
		_, _ = cc.store.Del(ctx, k) // self-heal
		cc.hooks.SelfHeal(k, "value_decode")
		return cc.populate(ctx, key, fetch, ttl, stale)
	}

	staleAt := ent.StaleAt()
	if now.After(staleAt) {
		cc.scheduleRefresh(key, fetch, ttl, stale)
	}
	return v, true, staleAt, nil
}

// populate fetches synchronously and writes the entry back. A fetch error is
// the one failure GetOrSet propagates: there is no data to serve instead.
func (cc *cache[V]) populate(ctx context.Context, key string, fetch FetchFunc[V], ttl, stale time.Duration) (V, bool, time.Time, error) {
	var zero V
	v, err := fetch(ctx)
	if err != nil {
		return zero, false, time.Time{}, err
	}
	cc.writeEntry(ctx, key, v, ttl, stale, "populate_set")
	return v, false, time.Time{}, nil
}

// writeEntry encodes and stores v. Failures are absorbed: the value is still
// good for the caller, it just will not be cached.
func (cc *cache[V]) writeEntry(ctx context.Context, key string, v V, ttl, stale time.Duration, op string) bool {
	payload, err := cc.codec.Encode(v)
	if err != nil {
		cc.log.Error("value encode failed; not cached", Fields{"key": key, "err": err})
		return false
	}
	b := wire.Encode(wire.Entry{
		CachedAt:  cc.now().Unix(),
		TTLSecs:   uint32(ttl / time.Second),
		StaleSecs: uint32(stale / time.Second),
		Payload:   payload,
	})
	k := cc.storageKey(key)
	ok, err := cc.store.Set(ctx, k, b, ttl)
	if err != nil {
		cc.hooks.FailOpen(op, err)
		cc.log.Warn("store set failed; not cached", Fields{"key": key, "err": err})
		return false
	}
	if !ok {
		cc.hooks.StoreSetRejected(k)
		cc.log.Debug("set rejected by store", Fields{"key": key})
	}
	return ok
}

// scheduleRefresh spawns at most one background refresh per key. Latecomers
// during an in-flight refresh keep serving the stale entry.
func (cc *cache[V]) scheduleRefresh(key string, fetch FetchFunc[V], ttl, stale time.Duration) {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		cc.hooks.RefreshSkipped(key, "closed")
		return
	}
	if _, busy := cc.inflight[key]; busy {
		cc.mu.Unlock()
		cc.hooks.RefreshSkipped(key, "inflight")
		return
	}
	if len(cc.inflight) >= cc.maxRefreshes {
		cc.mu.Unlock()
		cc.hooks.RefreshSkipped(key, "saturated")
		cc.log.Warn("refresh pool saturated", Fields{"key": key, "inflight": cc.maxRefreshes})
		return
	}
	cc.inflight[key] = struct{}{}
	cc.mu.Unlock()

	cc.hooks.RefreshScheduled(key)
	cc.refreshWg.Add(1)
	go cc.refresh(key, fetch, ttl, stale)
}

// refresh is fire-and-forget: detached from the request that triggered it and
// bounded only by whatever timeout the fetch itself enforces. The write-back
// is last-writer-wins against the previous entry.
func (cc *cache[V]) refresh(key string, fetch FetchFunc[V], ttl, stale time.Duration) {
	defer cc.refreshWg.Done()
	defer func() {
		cc.mu.Lock()
		delete(cc.inflight, key)
		cc.mu.Unlock()
	}()

	ctx := context.Background()
	v, err := fetch(ctx)
	if err != nil {
		// stale copy stays authoritative until hard expiry
		cc.hooks.RefreshFailed(key, err)
		cc.log.Warn("background refresh failed", Fields{"key": key, "err": err})
		return
	}
	if !cc.writeEntry(ctx, key, v, ttl, stale, "refresh_set") {
		cc.hooks.RefreshFailed(key, fmt.Errorf("swrcache: refresh write-back not stored"))
	}
}

func (cc *cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if !cc.enabled {
		return zero, false
	}
	k := cc.storageKey(key)
	raw, ok, err := cc.store.Get(ctx, k)
	if err != nil {
		cc.hooks.FailOpen("get", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	ent, derr := wire.Decode(raw)
	if derr != nil {
		_, _ = cc.store.Del(ctx, k)
		cc.hooks.SelfHeal(k, "corrupt")
		return zero, false
	}
	if cc.now().After(ent.ExpiresAt()) {
		_, _ = cc.store.Del(ctx, k)
		cc.hooks.SelfHeal(k, "expired")
		return zero, false
	}
	v, verr := cc.codec.Decode(ent.Payload)
	if verr != nil {
		_, _ = cc.store.Del(ctx, k)
		cc.hooks.SelfHeal(k, "value_decode")
		return zero, false
	}
	return v, true
}

func (cc *cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) bool {
	if !cc.enabled {
		return false
	}
	ttl, stale := cc.normalize(ttl, 0)
	return cc.writeEntry(ctx, key, value, ttl, stale, "set")
}

func (cc *cache[V]) Delete(ctx context.Context, key string) int64 {
	if !cc.enabled {
		return 0
	}
	n, err := cc.store.Del(ctx, cc.storageKey(key))
	if err != nil {
		cc.hooks.FailOpen("delete", err)
		cc.log.Warn("store delete failed", Fields{"key": key, "err": err})
		return 0
	}
	return n
}

func (cc *cache[V]) DeleteMatching(ctx context.Context, pattern string) int64 {
	if !cc.enabled {
		return 0
	}
	n, err := cc.store.DelMatching(ctx, cc.storageKey(pattern))
	if err != nil {
		cc.hooks.FailOpen("delete_matching", err)
		cc.log.Warn("store pattern delete failed", Fields{"pattern": pattern, "err": err})
		return n
	}
	return n
}

func (cc *cache[V]) Ping(ctx context.Context) error {
	return cc.store.Ping(ctx)
}

// Close refuses new refreshes, waits for outstanding ones until ctx expires,
// then closes the store. Both legs are attempted even if the first fails.
func (cc *cache[V]) Close(ctx context.Context) error {
	var waitErr error
	cc.closeOnce.Do(func() {
		cc.mu.Lock()
		cc.closed = true
		cc.mu.Unlock()

		done := make(chan struct{})
		go func() {
			cc.refreshWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	})

	storeErr := cc.store.Close(ctx)
	if waitErr == nil && storeErr == nil {
		return nil
	}
	return &CloseError{WaitErr: waitErr, StoreErr: storeErr}
}

// normalize applies defaults: ttl <= 0 takes the cache default; stale <= 0
// becomes ttl/2. Callers own the stale <= ttl invariant beyond that.
func (cc *cache[V]) normalize(ttl, stale time.Duration) (time.Duration, time.Duration) {
	if ttl <= 0 {
		ttl = cc.ttl
	}
	if stale <= 0 {
		stale = ttl / 2
	}
	return ttl, stale
}

func (cc *cache[V]) storageKey(userKey string) string {
	if cc.ns == "" {
		return userKey
	}
	return cc.ns + ":" + userKey
}
