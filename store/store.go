// Package store defines the distributed key-value abstraction used by
// swrcache. All higher components (the SWR cache, the invalidation bus, the
// rate limiter) depend on this contract, never on a concrete backend.
//
// Every method may fail with an error wrapping ErrUnavailable when the remote
// store cannot be reached. Callers must not surface that to their own callers:
// each component defines a local fallback (serve a miss, fail open, skip).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks transport or connection failures. Check with
// IsUnavailable rather than direct comparison.
var ErrUnavailable = errors.New("swrcache: store unavailable")

// Unavailable wraps err as a store-unavailable condition. nil stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsUnavailable reports whether err indicates the backing store could not be
// reached or could not complete the operation.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Store is a shared remote byte store with TTLs, glob pattern deletion and
// ordered sets. Implementations must be safe for concurrent use and
// byte-for-byte transparent: Get returns exactly the []byte previously passed
// to Set for that key.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	// Returns ok=false when the store rejected the write.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// DelMatching removes every key matching the glob pattern (trailing '*'
	// wildcard convention) and returns how many were removed.
	DelMatching(ctx context.Context, pattern string) (int64, error)

	// Ordered-set primitives, keyed by (member, score) pairs.
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Batch executes every operation queued by fn as one indivisible unit.
	// Integer results surface through *IntReply handles, resolved only after
	// the whole unit has executed. If Batch returns an error the unit may not
	// have run at all and no handle is valid; callers must fail open.
	Batch(ctx context.Context, fn func(Batch) error) error

	// Ping reports store liveness.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Batch records ordered-set operations for atomic execution. Methods never
// touch the network; the unit runs when the Batch callback returns.
type Batch interface {
	ZRemRangeByScore(key string, min, max float64)
	ZCard(key string) *IntReply
	ZAdd(key, member string, score float64)
	ZRem(key string, members ...string)
	Expire(key string, ttl time.Duration)
}

// IntReply carries an integer result out of a Batch once it has executed.
type IntReply struct {
	val int64
}

// Val returns the resolved value. Zero until the batch has executed.
func (r *IntReply) Val() int64 { return r.val }

// Resolve is called by Store implementations after the batch executes.
func (r *IntReply) Resolve(v int64) { r.val = v }
