package cache

// Policy names an eviction backend capability (C3 "eviction policy hook").
type Policy int

const (
	PolicyNone Policy = iota
	PolicyLRU
	PolicyTinyLFU
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyLRU:
		return "lru"
	case PolicyTinyLFU:
		return "tinylfu"
	default:
		return "unknown"
	}
}

// SetStatus is returned by every store-mutating operation that succeeds.
type SetStatus struct {
	CAS uint64
}

// DeltaResult is returned by Incr/Decr.
type DeltaResult struct {
	CAS   uint64
	Value uint64
}

// NoCreateSentinel is the magic request-expiration value meaning "do not
// create the key if it is absent" for Incr/Decr (spec §4.3).
const NoCreateSentinel uint32 = 0xFFFFFFFF

// Engine is the cache keyspace contract shared by every backend (C3). All
// methods are synchronous and safe for concurrent use; no method suspends —
// callers never need a context.Context to invoke them.
type Engine interface {
	Get(key string) (Record, error)
	Set(key string, record Record) (SetStatus, error)
	Add(key string, record Record) (SetStatus, error)
	Replace(key string, record Record) (SetStatus, error)
	Append(key string, suffix []byte, requestCAS uint64) (SetStatus, error)
	Prepend(key string, prefix []byte, requestCAS uint64) (SetStatus, error)
	Delete(key string, requestCAS uint64) (Record, error)
	Flush(expiration uint32)
	IncrDecr(key string, delta int64, initial uint64, expiration uint32, requestCAS uint64, incr bool) (DeltaResult, error)
	PendingTasks()
	Supports(policy Policy) bool
	Len() int
}

// nextPow2 returns the smallest power of two >= n, with a floor of 2. This
// mirrors the sharded map's shard-count calibration (spec §9).
func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
