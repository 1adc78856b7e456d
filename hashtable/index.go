// Package hashtable implements the request-fingerprint hash index and
// waiting-list coalescing of spec.md §4.3: mapping a 256-bit digest to a
// unique ObjHead, the five-step lookup contract, the insert/abandon
// contracts run at the end of a fetch, and the strict hash -> objhead ->
// LRU -> expiry -> ban lock ordering that governs every operation here.
package hashtable

import (
	"sync"

	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/objcore"
)

// Index is the outer hash table: digest -> ObjHead (spec.md §4.3
// "Responsibility. Map a 256-bit digest to a unique ObjHead"). Its own
// lock is always the outermost in the fixed lock order.
type Index struct {
	mu    sync.RWMutex
	heads map[common.Digest]*objcore.ObjHead
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{heads: make(map[common.Digest]*objcore.ObjHead)}
}

// FindOrInsert returns the ObjHead for digest, creating one if absent, and
// increments its refcount before returning (spec.md §4.3 step 1: "find-or-
// insert an ObjHead for the digest; increment its refcount; release the
// index lock"). created reports whether a brand new ObjHead was allocated,
// so callers can bump n_objecthead exactly once per head.
func (ix *Index) FindOrInsert(digest common.Digest) (h *objcore.ObjHead, created bool) {
	ix.mu.RLock()
	h, ok := ix.heads[digest]
	if ok {
		h.Ref()
		ix.mu.RUnlock()
		return h, false
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if h, ok = ix.heads[digest]; ok {
		h.Ref()
		return h, false
	}
	h = objcore.NewObjHead(digest)
	ix.heads[digest] = h
	return h, true
}

// Release derefs h and, if its refcount reached zero, removes it from the
// index provided it is Empty() (spec.md §3 lifecycle step 6 "if ObjHead
// becomes empty and has no waiters and no BusyObject, free it"). The
// ObjHead's own lock is taken to check emptiness, honoring the
// index -> objhead order. removed reports whether the head was actually
// dropped from the index, so callers can bump n_objecthead accordingly.
func (ix *Index) Release(h *objcore.ObjHead) (removed bool) {
	if !h.Deref() {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	h.Lock()
	empty := h.Empty()
	h.Unlock()
	if empty {
		delete(ix.heads, h.Digest)
		return true
	}
	return false
}

// Len reports the number of distinct digests currently indexed, for tests
// and metrics (n_objecthead).
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.heads)
}

// All returns a snapshot of every currently indexed ObjHead, for the ban
// lurker's candidate source and for debug/metrics enumeration. It takes no
// reference on the returned heads; callers must not retain them past a
// point where they might have been freed.
func (ix *Index) All() []*objcore.ObjHead {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*objcore.ObjHead, 0, len(ix.heads))
	for _, h := range ix.heads {
		out = append(out, h)
	}
	return out
}
