package swrcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
	st "github.com/unkn0wn-root/swrcache/store"
)

// FetchFunc produces a fresh value for a key. It is supplied by the caller
// and owns its own retry/timeout policy; the cache adds none.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Cache is the high-level SWR cache API. V is the caller's value type;
// serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	// GetOrSet returns the cached value for key, populating it via fetch on a
	// miss. A stale-but-unexpired entry is returned immediately while at most
	// one background refresh per key re-fetches it. cached reports whether the
	// value came from the store; staleAt is the entry's staleness deadline
	// (zero when the value was fetched directly). fetch errors are returned
	// only when there is no cached value to serve.
	GetOrSet(ctx context.Context, key string, fetch FetchFunc[V], ttl, stale time.Duration) (v V, cached bool, staleAt time.Time, err error)

	// Get is a plain read: no refresh scheduling. Malformed and hard-expired
	// entries are deleted and reported as misses. Store failures are
	// swallowed and reported as misses.
	Get(ctx context.Context, key string) (V, bool)

	// Set unconditionally overwrites key. Staleness defaults to ttl/2.
	// Returns false when the write did not happen (best effort).
	Set(ctx context.Context, key string, value V, ttl time.Duration) bool

	// Delete removes key; DeleteMatching removes every key matching the glob
	// pattern. Both swallow store errors and return best-effort counts.
	Delete(ctx context.Context, key string) int64
	DeleteMatching(ctx context.Context, pattern string) int64

	// Ping reports store liveness. A failing ping means the cache is in
	// fail-open mode (direct fetches, nothing cached), not that it is down.
	Ping(ctx context.Context) error

	// Close waits for outstanding background refreshes (bounded by ctx) and
	// releases the store.
	Close(ctx context.Context) error
}

// Options tune the cache. Only Store and Codec are required; others have
// sensible defaults.
type Options[V any] struct {
	// Required
	Store st.Store
	Codec c.Codec[V]

	// Namespace is an optional prefix isolating this cache's keys
	// ("" => keys stored verbatim). When set, patterns passed to
	// DeleteMatching are prefixed the same way.
	Namespace string

	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // used when GetOrSet/Set get ttl <= 0; 0 => 10m

	// MaxConcurrentRefreshes caps in-flight background refreshes process-wide.
	// At the cap, stale reads still serve the stale value; the refresh is
	// skipped. 0 => 64.
	MaxConcurrentRefreshes int

	Disabled bool // default false (enabled); when disabled every read is a direct fetch
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
