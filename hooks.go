package swrcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode", "expired"}
	SelfHeal(storageKey, reason string)

	// A stale read scheduled a background refresh for key.
	RefreshScheduled(key string)

	// A stale read did not schedule a refresh.
	// reason ∈ {"inflight", "saturated", "closed"}
	RefreshSkipped(key, reason string)

	// A background refresh's fetch or write-back failed; the stale entry
	// remains authoritative until hard expiry.
	RefreshFailed(key string, err error)

	// The store failed and the cache served a local fallback instead.
	// op ∈ {"get", "set", "delete", "delete_matching", "populate_set", "refresh_set"}
	FailOpen(op string, err error)

	// Store returned ok=false on Set (write rejected).
	StoreSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)        {}
func (NopHooks) RefreshScheduled(string)        {}
func (NopHooks) RefreshSkipped(string, string)  {}
func (NopHooks) RefreshFailed(string, error)    {}
func (NopHooks) FailOpen(string, error)         {}
func (NopHooks) StoreSetRejected(string)        {}
