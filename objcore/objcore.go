// Package objcore implements the ObjHead / ObjCore / Object / BusyObject
// data model of spec.md §3: the per-key rendezvous structure, its small
// refcounted index proxies, the full cached response, and the transient
// state of an in-progress fetch. The cyclic ObjHead<->ObjCore reference is
// expressed as a direct pointer guarded by the ObjHead mutex rather than a
// slab index (spec.md §9 names slab-index-with-weak-back-pointer as one
// valid strategy; Go's GC makes the simpler direct-pointer form safe here,
// so the arena-of-indices approach buys nothing and is not used), but every
// traversal of oc.head still goes through the ObjHead mutex as if it were
// a weak reference, per the same design note.
package objcore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/lrulist"
	"github.com/coreproxy/cachecore/storage"
)

// ObjHead uniquely identifies one cache key. It owns the ordered list of
// ObjCore variants sharing that digest, at most one waiting list, and at
// most one running BusyObject (spec.md §3 "ObjHead").
type ObjHead struct {
	Digest common.Digest

	mu    sync.Mutex
	refs  atomic.Int32
	cores []*ObjCore // newest first, per spec.md §4.3 "newest to oldest"
	busy  *BusyObject
	wl    *WaitingList
}

// NewObjHead returns an ObjHead with one reference held by the caller (the
// hash table itself), per spec.md §4.3 "the hash table lookup always
// returns a referenced ObjHead".
func NewObjHead(digest common.Digest) *ObjHead {
	h := &ObjHead{Digest: digest}
	h.refs.Store(1)
	return h
}

// Ref increments the ObjHead's refcount. Call while holding the index lock
// that found this head, before releasing it (spec.md §4.3 step 1).
func (h *ObjHead) Ref() { h.refs.Add(1) }

// Deref decrements the refcount and reports whether it reached zero, at
// which point the caller (the hash table) must remove the head from the
// index, provided it also has no waiters and no busy object (spec.md §3
// lifecycle step 6).
func (h *ObjHead) Deref() bool {
	return h.refs.Add(-1) == 0
}

// RefCount reports the current reference count, for assertions/tests.
func (h *ObjHead) RefCount() int32 { return h.refs.Load() }

// Lock/Unlock expose the ObjHead mutex directly: per spec.md §4.3/§5 every
// operation on its ObjCore list, its waiting list, and its BusyObject
// pointer is serialized by this single lock, taken in the fixed order
// index -> objhead -> LRU -> expiry -> ban.
func (h *ObjHead) Lock()   { h.mu.Lock() }
func (h *ObjHead) Unlock() { h.mu.Unlock() }

// TryLock attempts to acquire the ObjHead mutex without blocking, for the
// nuke_one path which must never stall behind a busy ObjHead (spec.md
// §4.4 "whose ObjHead mutex cannot be trylocked").
func (h *ObjHead) TryLock() bool { return h.mu.TryLock() }

// Cores returns the current ObjCore list, newest first. Callers must hold
// the ObjHead lock.
func (h *ObjHead) Cores() []*ObjCore { return h.cores }

// AddCore inserts oc at the front of the list (newest) and points oc.head
// at h. Callers must hold the ObjHead lock.
func (h *ObjHead) AddCore(oc *ObjCore) {
	oc.head = h
	h.cores = append([]*ObjCore{oc}, h.cores...)
}

// RemoveCore detaches oc from the list. Callers must hold the ObjHead
// lock. Reports whether oc was found.
func (h *ObjHead) RemoveCore(oc *ObjCore) bool {
	for i, c := range h.cores {
		if c == oc {
			h.cores = append(h.cores[:i], h.cores[i+1:]...)
			return true
		}
	}
	return false
}

// Empty reports whether the head has no cores, no waiters, and no running
// fetch, i.e. is eligible for removal from the hash index (spec.md §3
// lifecycle step 6). Callers must hold the ObjHead lock.
func (h *ObjHead) Empty() bool {
	return len(h.cores) == 0 && h.busy == nil && (h.wl == nil || h.wl.Len() == 0)
}

// Busy returns the currently running BusyObject, or nil. Callers must hold
// the ObjHead lock.
func (h *ObjHead) Busy() *BusyObject { return h.busy }

// SetBusy installs or clears the running BusyObject. At most one may be
// set at a time (spec.md §3 invariant); callers must hold the ObjHead
// lock.
func (h *ObjHead) SetBusy(bo *BusyObject) {
	if bo != nil && h.busy != nil {
		panic("objcore: ObjHead already has a running BusyObject")
	}
	h.busy = bo
}

// WaitingListOrCreate returns the head's waiting list, creating it on first use.
// Callers must hold the ObjHead lock.
func (h *ObjHead) WaitingListOrCreate() *WaitingList {
	if h.wl == nil {
		h.wl = newWaitingList()
	}
	return h.wl
}

// WaitingList returns the head's waiting list, or nil if none exists yet.
// Callers must hold the ObjHead lock.
func (h *ObjHead) WaitingList() *WaitingList { return h.wl }

// ObjCore is the small in-index proxy for an Object (spec.md §3). Exactly
// one ObjCore per active fetch is Busy; DYING is monotonic.
type ObjCore struct {
	lrulist.Node // embedded recency linkage; LastTouch lives here too

	flags flagWord
	refs  atomic.Int32

	head *ObjHead

	Engine  storage.Engine
	Object  *Object
	BanSeq  uint64 // ban list sequence number at insertion time (spec.md §3 "ban tail reference")
	HeapIdx int    // back-pointer into the expiry heap array; -1 when not in the heap

	TOrigin time.Time
	TTL     time.Duration
	Grace   time.Duration
	Keep    time.Duration
}

// NewObjCore returns a fresh ObjCore with one reference held by the caller
// and HeapIdx initialized to -1 (not in the heap).
func NewObjCore() *ObjCore {
	oc := &ObjCore{HeapIdx: -1}
	oc.refs.Store(1)
	oc.Node.Owner = oc
	return oc
}

// Flags returns the current flag word.
func (oc *ObjCore) Flags() Flags { return oc.flags.load() }

// SetFlags ORs in the given bits and returns the resulting word.
func (oc *ObjCore) SetFlags(f Flags) Flags { return oc.flags.set(f) }

// ClearFlags ANDs out the given bits (DYING is never cleared) and returns
// the resulting word.
func (oc *ObjCore) ClearFlags(f Flags) Flags { return oc.flags.clear(f) }

// Is reports whether every bit in f is currently set.
func (oc *ObjCore) Is(f Flags) bool { return oc.flags.has(f) }

// Head returns the owning ObjHead. Safe to call without the ObjHead lock
// since the pointer itself never changes after insertion; dereferencing
// its fields still requires the lock.
func (oc *ObjCore) Head() *ObjHead { return oc.head }

// Ref increments the refcount. Per spec.md §3 "Refcount >= number of
// active deliveries + one for the expiry engine while live + one for the
// fetcher while busy."
func (oc *ObjCore) Ref() int32 { return oc.refs.Add(1) }

// RefCount reports the current refcount.
func (oc *ObjCore) RefCount() int32 { return oc.refs.Load() }

// Deadline returns t_origin + ttl + grace + keep, the value that must
// equal the expiry heap key for this entry whenever it is live (spec.md
// §8 quantified invariant).
func (oc *ObjCore) Deadline() time.Time {
	return oc.TOrigin.Add(oc.TTL).Add(oc.Grace).Add(oc.Keep)
}

// FreshUntil returns t_origin + ttl, the boundary between a plain hit and
// serving grace.
func (oc *ObjCore) FreshUntil() time.Time {
	return oc.TOrigin.Add(oc.TTL)
}

// GraceUntil returns t_origin + ttl + grace, the boundary between serving
// grace and the conditional-fetch keep window.
func (oc *ObjCore) GraceUntil() time.Time {
	return oc.TOrigin.Add(oc.TTL).Add(oc.Grace)
}

// DeferFree is the caller-supplied teardown invoked exactly once, the
// instant Deref observes the refcount reach zero: free the Object (which
// returns its segments to the engine), then detach from the ObjHead, per
// spec.md §3 lifecycle step 6. It is intentionally not wired automatically
// into Deref: the caller (always holding whatever locks the teardown
// needs) decides when and how to run it, matching the teacher's explicit,
// scope-guarded resource release style (spec.md §9).
type DeferFree func(oc *ObjCore)

// Deref decrements the refcount and, if it has just reached zero, invokes
// onZero exactly once. Reaching zero more than once is a fatal invariant
// violation (spec.md §8 "Refcounts ... reach zero exactly once per
// ObjCore").
func (oc *ObjCore) Deref(onZero DeferFree) {
	n := oc.refs.Add(-1)
	if n < 0 {
		panic("objcore: refcount went negative")
	}
	if n == 0 && onZero != nil {
		onZero(oc)
	}
}
