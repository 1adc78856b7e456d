package hashtable

import (
	"github.com/coreproxy/cachecore/objcore"
)

// AllHeads returns a snapshot of every ObjHead currently indexed, for the
// ban lurker's candidate source (spec.md §4.6 "Lurker") and debug/metrics
// enumeration.
func (t *Table) AllHeads() []*objcore.ObjHead {
	return t.index.All()
}

// Complete runs the insert contract: a fetch started by a prior Miss has
// finished. oc is the ObjCore that was returned busy from Lookup. If
// cacheable is false the core is detached and the digest is remembered as
// a short-lived known-miss so the next requests skip straight past the
// candidate walk; otherwise it stays installed for future hits.
func (t *Table) Complete(head *objcore.ObjHead, oc *objcore.ObjCore, cacheable bool) {
	head.Lock()
	oc.ClearFlags(objcore.Busy)
	if !cacheable {
		oc.SetFlags(objcore.HitForMiss)
		head.RemoveCore(oc)
	}
	// A Private core created under hash_always_miss (spec.md §4.3 step 4)
	// never occupied the head's single BusyObject slot; only release the
	// slot when it's still this core's.
	if bo := head.Busy(); bo != nil && bo.ObjCore == oc {
		head.SetBusy(nil)
	}
	head.Unlock()

	if !cacheable {
		t.front.markUncacheable(head.Digest)
	}
	t.wake.dispatchWake(head, objcore.WakeRedoLookup)
}

// Abandon runs the abandon contract: a fetch started by a prior Miss
// failed before producing a usable response. oc is marked dying and
// detached; every parked waiter is woken to retry or surface the error.
func (t *Table) Abandon(head *objcore.ObjHead, oc *objcore.ObjCore) {
	head.Lock()
	oc.SetFlags(objcore.Dying)
	oc.ClearFlags(objcore.Busy)
	head.RemoveCore(oc)
	if bo := head.Busy(); bo != nil && bo.ObjCore == oc {
		head.SetBusy(nil)
	}
	head.Unlock()

	t.wake.dispatchWake(head, objcore.WakeRetryOrFail)
}
