// Package swrcache implements a stale-while-revalidate (SWR) cache on top of
// a shared, occasionally-unavailable distributed key-value store. A fresh hit
// is served directly; a stale-but-unexpired hit is served immediately while
// exactly one background refresh per key re-populates the entry; a hard-expired
// entry or a miss triggers a synchronous fetch. Store outages never surface to
// callers: the cache falls back to a direct fetch and skips the write-back.
//
// Components:
//   - store.Store: shared byte store with TTLs, glob deletion, ordered sets
//     and atomic batches (Redis implementation in store/redis).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - bus.Bus: cluster-wide invalidation fanout over pub/sub; every node
//     applies pattern deletes locally.
//   - ratelimit.Limiter: sliding-window admission control on the same store.
//
// Keys follow the "{domain}:{identifier}:{suffix}" convention, e.g.
// "product:42:summary"; pattern deletes use a trailing '*' wildcard.
//
// SWR pattern:
//
//	v, cached, staleAt, err := cache.GetOrSet(ctx, "product:42:summary",
//	    loadSummary, 10*time.Minute, time.Minute)
//
// Even with the invalidation bus down entirely, staleness is bounded by each
// entry's TTL: affected keys self-expire no later than ttl after their write.
package swrcache
