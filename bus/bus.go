// Package bus implements cluster-wide cache-invalidation fanout. A node that
// mutates shared data publishes a key pattern; every node sharing the store
// receives it and applies the pattern delete locally, so none keeps serving a
// copy past the broadcast.
//
// Delivery is at-most-once best-effort per subscriber connection. Events
// published while a subscriber is disconnected are lost; affected entries
// still self-expire via their TTL, which bounds staleness even under total
// bus failure.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/store"
)

const defaultChannel = "swrcache:invalidate"

// Event is an invalidation broadcast. Ephemeral: it exists only on the wire.
type Event struct {
	Pattern   string    `msgpack:"pattern"`
	Reason    string    `msgpack:"reason"`
	Timestamp time.Time `msgpack:"ts"`
}

// Transport carries encoded events between nodes (Redis pub/sub in bus/redis).
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is one live subscriber connection.
type Subscription interface {
	// Receive blocks for the next message payload.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Listener is notified after an event's pattern delete has been applied
// locally. deleted is the number of keys removed on this node.
type Listener func(pattern, reason string, deleted int64)

type Config struct {
	// Required
	Store     store.Store
	Transport Transport

	Channel string           // pub/sub channel; "" => "swrcache:invalidate"
	Logger  swrcache.Logger  // if nil, logging is disabled
	Clock   func() time.Time // event timestamps; nil => time.Now

	// Reconnect backoff for the subscriber loop. Defaults 250ms .. 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Bus struct {
	store     store.Store
	transport Transport
	channel   string
	log       swrcache.Logger
	now       func() time.Time

	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(cfg Config) (*Bus, error) {
	if cfg.Store == nil {
		return nil, errors.New("bus: store is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("bus: transport is required")
	}
	b := &Bus{
		store:     cfg.Store,
		transport: cfg.Transport,
		channel:   cfg.Channel,
		log:       cfg.Logger,
		now:       cfg.Clock,
		listeners: make(map[int]Listener),
	}
	if b.channel == "" {
		b.channel = defaultChannel
	}
	if b.log == nil {
		b.log = swrcache.NopLogger{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.minBackoff = cfg.MinBackoff
	if b.minBackoff <= 0 {
		b.minBackoff = 250 * time.Millisecond
	}
	b.maxBackoff = cfg.MaxBackoff
	if b.maxBackoff <= 0 {
		b.maxBackoff = 30 * time.Second
	}
	return b, nil
}

// Publish broadcasts an invalidation for pattern. Best-effort: a false return
// means the event did not go out (subscribed nodes rely on entry TTLs for the
// staleness bound), never an error to propagate.
func (b *Bus) Publish(ctx context.Context, pattern, reason string) bool {
	payload, err := msgpack.Marshal(Event{
		Pattern:   pattern,
		Reason:    reason,
		Timestamp: b.now(),
	})
	if err != nil {
		b.log.Error("invalidation encode failed", swrcache.Fields{"pattern": pattern, "err": err})
		return false
	}
	if err := b.transport.Publish(ctx, b.channel, payload); err != nil {
		b.log.Warn("invalidation publish failed", swrcache.Fields{"pattern": pattern, "err": err})
		return false
	}
	b.log.Debug("invalidation published", swrcache.Fields{"pattern": pattern, "reason": reason})
	return true
}

// InvalidateEntity broadcasts a delete for every key of one entity,
// "{domain}:{id}:*" per the key namespace convention.
func (b *Bus) InvalidateEntity(ctx context.Context, domain, id string) bool {
	return b.Publish(ctx, domain+":"+id+":*", "entity_changed")
}

// InvalidateAll broadcasts a delete for a whole domain, "{domain}:*".
func (b *Bus) InvalidateAll(ctx context.Context, domain string) bool {
	return b.Publish(ctx, domain+":*", "domain_flush")
}

// AddListener registers fn for processed events and returns its remove func.
func (b *Bus) AddListener(fn Listener) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Run is the long-lived subscriber loop: for every received event it applies
// the pattern delete against the local store view, then notifies listeners.
// On transport failure it reconnects with capped exponential backoff. Returns
// only when ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	backoff := b.minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sub, err := b.transport.Subscribe(ctx, b.channel)
		if err != nil {
			b.log.Warn("bus subscribe failed; retrying", swrcache.Fields{"err": err, "backoff": backoff.String()})
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, b.maxBackoff)
			continue
		}
		backoff = b.minBackoff

		err = b.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Warn("bus subscription dropped; reconnecting", swrcache.Fields{"err": err})
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, b.maxBackoff)
	}
}

// consume drains one subscription until it fails or ctx is cancelled.
func (b *Bus) consume(ctx context.Context, sub Subscription) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		b.handle(ctx, payload)
	}
}

func (b *Bus) handle(ctx context.Context, payload []byte) {
	var ev Event
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		b.log.Warn("invalidation decode failed; dropped", swrcache.Fields{"err": err})
		return
	}
	if ev.Pattern == "" {
		return
	}

	deleted, err := b.store.DelMatching(ctx, ev.Pattern)
	if err != nil {
		// entries the delete missed still self-expire via TTL
		b.log.Warn("pattern delete failed", swrcache.Fields{"pattern": ev.Pattern, "err": err})
	}
	b.log.Debug("invalidation applied", swrcache.Fields{
		"pattern": ev.Pattern, "reason": ev.Reason, "deleted": deleted,
	})

	b.mu.Lock()
	fns := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev.Pattern, ev.Reason, deleted)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
