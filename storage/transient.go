package storage

// TransientIdent is the well-known engine name reserved for short-TTL
// objects, per spec.md §6 "the transient store is reserved under the ident
// 'Transient'". corecache routes any object whose ttl+grace+keep is below
// config.Params.Shortlived to this engine automatically, regardless of
// what the request's configured store would otherwise have been.
const TransientIdent = "Transient"

// TransientEngine is functionally a MallocEngine under a reserved name: a
// small, fast, heap-backed store for objects that will be evicted within
// seconds (spec.md §3 "transient (reserved name for short-TTL objects,
// identified by a well-known ident)").
type TransientEngine struct {
	*MallocEngine
}

// NewTransientEngine returns the process-wide transient store. maxBytes
// sizes the underlying MallocEngine's fastcache instance; Alloc does not
// check it, so allocations do not fail, and nuke_one is not triggered, when
// short-lived objects exceed it.
func NewTransientEngine(maxBytes int) *TransientEngine {
	return &TransientEngine{MallocEngine: NewMallocEngine(TransientIdent, maxBytes)}
}
