package cache

// Metadata bundles the per-entry version stamp, client-owned flags, and
// absolute expiration (C2). A zero CAS in a request means "unset/wildcard";
// every stored record carries a strictly positive CAS.
type Metadata struct {
	CAS        uint64
	Flags      uint32
	Expiration uint32 // absolute seconds-since-epoch-of-logical-clock; 0 = never
}

// Record is a stored (metadata, value) pair. Value is treated as immutable
// once installed: mutating operations always build a new byte slice rather
// than writing through a shared one.
type Record struct {
	Metadata Metadata
	Value    []byte
}

// Clone returns a shallow copy of the record with its own Value slice.
// Handlers operate on clones so the cache engine's internal storage is
// never aliased outside the engine.
func (r Record) Clone() Record {
	v := make([]byte, len(r.Value))
	copy(v, r.Value)
	return Record{Metadata: r.Metadata, Value: v}
}

// expired reports whether the record is past its expiration at "now".
func (r Record) expired(now uint32) bool {
	return r.Metadata.Expiration != 0 && r.Metadata.Expiration <= now
}

// resolveExpiration converts a request TTL into the absolute expiration
// stamped on a stored record (spec §3: ttl==0 stores 0, ttl>0 stores now+ttl).
func resolveExpiration(now uint32, requestTTL uint32) uint32 {
	if requestTTL == 0 {
		return 0
	}
	return now + requestTTL
}
