package cache

import (
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// shard is one lock-guarded partition of the keyspace. The get-then-set CAS
// pattern is always performed as a single critical section inside a shard's
// mutex, never as two separate map operations (spec §9 "CAS discipline").
type shard struct {
	mu   sync.Mutex
	data map[string]Record
}

// ShardedEngine is the default cache backend ("sharded-hash-map"): a fixed
// set of lock-guarded shards plus a single lock-free CAS counter. Shard count
// is calibrated to next_power_of_two(parallelism^2/4), minimum 2, mirroring
// the observed calibration of a production DashMap-backed store.
type ShardedEngine struct {
	shards     []*shard
	shardMask  uint64
	casCounter atomic.Uint64
	clock      Clock
}

// NewShardedEngine builds a sharded engine sized for parallelism (typically
// runtime.GOMAXPROCS(0) or a configured worker count).
func NewShardedEngine(clock Clock, parallelism int) *ShardedEngine {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	shardCount := nextPow2(parallelism * parallelism / 4)
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{data: make(map[string]Record)}
	}
	e := &ShardedEngine{
		shards:    shards,
		shardMask: uint64(shardCount - 1),
		clock:     clock,
	}
	e.casCounter.Store(1)
	return e
}

func (e *ShardedEngine) shardFor(key string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return e.shards[h.Sum64()&e.shardMask]
}

func (e *ShardedEngine) nextCAS() uint64 {
	return e.casCounter.Add(1) - 1
}

func (e *ShardedEngine) now() uint32 {
	return e.clock.Timestamp()
}

// Get looks up a key, lazily expiring it if its TTL has elapsed.
func (e *ShardedEngine) Get(key string) (Record, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.expired(e.now()) {
		delete(s.data, key)
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// Set installs record unconditionally or under CAS discipline. record.Metadata.CAS
// is the *request* CAS: 0 means unconditional, >0 means "only if stored CAS matches".
// record.Metadata.Expiration is the *request* TTL, resolved to an absolute
// expiration as part of installing the record.
func (e *ShardedEngine) Set(key string, record Record) (SetStatus, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.setLocked(s, key, record)
}

// setLocked implements the legacy absent-key CAS behavior noted as Open
// Question 1 in spec §9: a nonzero request CAS against an absent key still
// succeeds, installing cas = request.cas + 1, rather than being rejected.
func (e *ShardedEngine) setLocked(s *shard, key string, record Record) (SetStatus, error) {
	existing, exists := s.data[key]
	if exists && existing.expired(e.now()) {
		delete(s.data, key)
		exists = false
	}

	var cas uint64
	if record.Metadata.CAS > 0 {
		if exists {
			if existing.Metadata.CAS != record.Metadata.CAS {
				return SetStatus{}, ErrKeyExists
			}
			cas = existing.Metadata.CAS + 1
		} else {
			cas = record.Metadata.CAS + 1
		}
	} else {
		cas = e.nextCAS()
	}

	stored := record.Clone()
	stored.Metadata.CAS = cas
	stored.Metadata.Expiration = resolveExpiration(e.now(), record.Metadata.Expiration)
	s.data[key] = stored
	return SetStatus{CAS: cas}, nil
}

// Add succeeds only when the key is absent (or present-but-expired).
func (e *ShardedEngine) Add(key string, record Record) (SetStatus, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[key]; ok && !existing.expired(e.now()) {
		return SetStatus{}, ErrKeyExists
	}
	delete(s.data, key)
	return e.setLocked(s, key, record)
}

// Replace succeeds only when the key is present and not expired.
func (e *ShardedEngine) Replace(key string, record Record) (SetStatus, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key]
	if !ok || existing.expired(e.now()) {
		delete(s.data, key)
		return SetStatus{}, ErrNotFound
	}
	return e.setLocked(s, key, record)
}

func (e *ShardedEngine) concat(key string, extra []byte, requestCAS uint64, prepend bool) (SetStatus, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key]
	if !ok || existing.expired(e.now()) {
		delete(s.data, key)
		return SetStatus{}, ErrNotFound
	}
	if requestCAS != 0 && existing.Metadata.CAS != requestCAS {
		return SetStatus{}, ErrKeyExists
	}

	var value []byte
	if prepend {
		value = make([]byte, 0, len(extra)+len(existing.Value))
		value = append(value, extra...)
		value = append(value, existing.Value...)
	} else {
		value = make([]byte, 0, len(existing.Value)+len(extra))
		value = append(value, existing.Value...)
		value = append(value, extra...)
	}

	cas := e.nextCAS()
	s.data[key] = Record{
		Metadata: Metadata{CAS: cas, Flags: existing.Metadata.Flags, Expiration: existing.Metadata.Expiration},
		Value:    value,
	}
	return SetStatus{CAS: cas}, nil
}

func (e *ShardedEngine) Append(key string, suffix []byte, requestCAS uint64) (SetStatus, error) {
	return e.concat(key, suffix, requestCAS, false)
}

func (e *ShardedEngine) Prepend(key string, prefix []byte, requestCAS uint64) (SetStatus, error) {
	return e.concat(key, prefix, requestCAS, true)
}

// Delete removes a key iff requestCAS is 0 or matches the stored CAS.
func (e *ShardedEngine) Delete(key string, requestCAS uint64) (Record, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if existing.expired(e.now()) {
		delete(s.data, key)
		return Record{}, ErrNotFound
	}
	if requestCAS != 0 && existing.Metadata.CAS != requestCAS {
		return Record{}, ErrKeyExists
	}
	delete(s.data, key)
	return existing, nil
}

// Flush drops everything immediately (expiration==0) or re-stamps every
// entry's expiration so they expire lazily thereafter (expiration>0).
func (e *ShardedEngine) Flush(expiration uint32) {
	for _, s := range e.shards {
		s.mu.Lock()
		if expiration == 0 {
			s.data = make(map[string]Record)
		} else {
			for k, rec := range s.data {
				rec.Metadata.Expiration = expiration
				s.data[k] = rec
			}
		}
		s.mu.Unlock()
	}
}

// IncrDecr implements numeric increment/decrement with initial-value
// semantics (spec §4.3). The wire format carries delta as u64; it is passed
// as int64 and converted back with uint64(delta), so no bits are lost, and
// incr alone selects the direction.
func (e *ShardedEngine) IncrDecr(key string, delta int64, initial uint64, expiration uint32, requestCAS uint64, incr bool) (DeltaResult, error) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key]
	if ok && existing.expired(e.now()) {
		delete(s.data, key)
		ok = false
	}

	if !ok {
		if expiration == NoCreateSentinel {
			return DeltaResult{}, ErrNotFound
		}
		cas := e.nextCAS()
		s.data[key] = Record{
			Metadata: Metadata{CAS: cas, Expiration: resolveExpiration(e.now(), expiration)},
			Value:    []byte(strconv.FormatUint(initial, 10)),
		}
		return DeltaResult{CAS: cas, Value: initial}, nil
	}

	if requestCAS != 0 && existing.Metadata.CAS != requestCAS {
		return DeltaResult{}, ErrKeyExists
	}

	current, err := strconv.ParseUint(string(existing.Value), 10, 64)
	if err != nil {
		return DeltaResult{}, ErrArithOnNonNumeric
	}

	var newVal uint64
	if incr {
		newVal = current + uint64(delta)
	} else if uint64(delta) > current {
		newVal = 0
	} else {
		newVal = current - uint64(delta)
	}

	cas := e.nextCAS()
	s.data[key] = Record{
		Metadata: Metadata{CAS: cas, Flags: existing.Metadata.Flags, Expiration: existing.Metadata.Expiration},
		Value:    []byte(strconv.FormatUint(newVal, 10)),
	}
	return DeltaResult{CAS: cas, Value: newVal}, nil
}

// PendingTasks is a no-op for the default backend; only capacity-bounded
// backends have deferred eviction work to perform.
func (e *ShardedEngine) PendingTasks() {}

// Supports reports that the default backend offers no active eviction policy.
func (e *ShardedEngine) Supports(policy Policy) bool {
	return policy == PolicyNone
}

// Len returns the total number of live (not necessarily unexpired) entries.
func (e *ShardedEngine) Len() int {
	total := 0
	for _, s := range e.shards {
		s.mu.Lock()
		total += len(s.data)
		s.mu.Unlock()
	}
	return total
}

var _ Engine = (*ShardedEngine)(nil)
