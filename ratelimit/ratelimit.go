// Package ratelimit implements per-key sliding-window-log admission control
// on the shared store. Each allowed request leaves a timestamped marker in an
// ordered set; a request is admitted while the trailing window holds fewer
// markers than the rule permits. Limiter state self-expires, and a store
// outage always fails open: traffic is never blocked because the limiter's
// backing store is down.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/store"
)

const defaultKeyPrefix = "ratelimit"

// Rule is an immutable limit configuration, one per route prefix.
type Rule struct {
	Requests int           // admitted requests per window
	Window   time.Duration // trailing window length
	// Burst is carried as rule data for burst-tolerant policies; the
	// admission check itself uses Requests. 0 => 2×Requests.
	Burst int
}

func (r Rule) withDefaults() Rule {
	if r.Burst <= 0 {
		r.Burst = 2 * r.Requests
	}
	return r
}

// Info describes the admission decision for response headers.
type Info struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Window    time.Duration
}

type Config struct {
	// Required
	Store store.Store

	KeyPrefix string           // storage prefix; "" => "ratelimit"
	Logger    swrcache.Logger  // if nil, logging is disabled
	Clock     func() time.Time // nil => time.Now
}

type Limiter struct {
	store  store.Store
	prefix string
	log    swrcache.Logger
	now    func() time.Time
}

func New(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	l := &Limiter{
		store:  cfg.Store,
		prefix: cfg.KeyPrefix,
		log:    cfg.Logger,
		now:    cfg.Clock,
	}
	if l.prefix == "" {
		l.prefix = defaultKeyPrefix
	}
	if l.log == nil {
		l.log = swrcache.NopLogger{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Allow decides admission for key under rule. Trim, count, optimistic insert
// and TTL refresh run as one atomic batch; a denial compensates by removing
// the just-inserted marker so rejected requests leave no residue.
//
// On a store that cannot execute the batch atomically, concurrent requests
// racing between count and insert can transiently admit more than
// rule.Requests within a window. That is a known soft bound, not a hard one.
// Any store failure fails open with the full quota.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (bool, Info) {
	rule = rule.withDefaults()
	now := l.now()
	k := l.storageKey(key)

	windowStart := now.Add(-rule.Window)
	member := strconv.FormatInt(now.UnixNano(), 10)

	var count *store.IntReply
	err := l.store.Batch(ctx, func(b store.Batch) error {
		b.ZRemRangeByScore(k, math.Inf(-1), float64(windowStart.UnixNano()))
		count = b.ZCard(k)
		b.ZAdd(k, member, float64(now.UnixNano()))
		b.Expire(k, rule.Window+time.Second) // idle limiter state self-cleans
		return nil
	})
	if err != nil {
		l.log.Warn("limiter store failed; failing open", swrcache.Fields{"key": key, "err": err})
		return true, Info{
			Limit:     rule.Requests,
			Remaining: rule.Requests,
			ResetAt:   now.Add(rule.Window),
			Window:    rule.Window,
		}
	}

	before := int(count.Val())
	allowed := before < rule.Requests
	if !allowed {
		// best effort: a lost compensation only shortens the window for
		// this client, it never widens it
		if rerr := l.store.ZRem(ctx, k, member); rerr != nil {
			l.log.Debug("marker compensation failed", swrcache.Fields{"key": key, "err": rerr})
		}
	}

	remaining := rule.Requests - before - 1
	if remaining < 0 {
		remaining = 0
	}
	return allowed, Info{
		Limit:     rule.Requests,
		Remaining: remaining,
		ResetAt:   now.Add(rule.Window),
		Window:    rule.Window,
	}
}

// Reset drops all markers for key (administrative override).
func (l *Limiter) Reset(ctx context.Context, key string) bool {
	if _, err := l.store.Del(ctx, l.storageKey(key)); err != nil {
		l.log.Warn("limiter reset failed", swrcache.Fields{"key": key, "err": err})
		return false
	}
	return true
}

func (l *Limiter) storageKey(key string) string {
	return l.prefix + ":" + key
}
