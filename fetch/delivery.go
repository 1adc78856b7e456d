package fetch

import (
	"github.com/coreproxy/cachecore/objcore"
)

// IterStatus is the per-chunk status spec.md §6 names for deliver_iter:
// "(ptr, len, {data, stream, done, error})".
type IterStatus int

const (
	// IterData is a chunk from a fully cached (non-busy) object.
	IterData IterStatus = iota
	// IterStream is a chunk delivered while the fetch that produced it is
	// still running.
	IterStream
	// IterDone means the body is exhausted; ptr/len are zero.
	IterDone
	// IterError means the fetch failed; err is set.
	IterError
)

// Delivery is the external streaming iterator of spec.md §6
// (deliver_begin/deliver_iter/deliver_end): it walks an Object's segments,
// transparently blocking on the owning BusyObject's condvar for more
// bytes if the object is still being fetched (spec.md §4.5 "Streaming
// visibility").
type Delivery struct {
	object *objcore.Object
	busy   *objcore.BusyObject // nil once the object is known fully cached

	segIdx int
	segOff int
	have   int64
}

// DeliverBegin starts a delivery against oc. busy should be the ObjHead's
// current BusyObject if a fetch for this variant is still running, or nil
// if oc is already a settled cache hit (spec.md §6 "deliver_begin(oc) ->
// iterator").
func DeliverBegin(oc *objcore.ObjCore, busy *objcore.BusyObject) *Delivery {
	return &Delivery{object: oc.Object, busy: busy}
}

// Next returns the next chunk of committed body bytes, blocking if
// necessary on an in-progress fetch, or reports IterDone/IterError
// (spec.md §6 "deliver_iter(iterator) -> (ptr, len, status)"). The
// returned slice aliases storage memory and is only valid for the
// caller's use before the next Next call, matching the teacher's
// zero-copy delivery style.
func (d *Delivery) Next() ([]byte, IterStatus, error) {
	for {
		segs := d.object.SegmentsSnapshot()
		if d.segIdx < len(segs) {
			b := segs[d.segIdx].Bytes()
			if d.segOff < len(b) {
				chunk := b[d.segOff:]
				d.segOff = len(b)
				d.have += int64(len(chunk))
				status := IterData
				if d.busy != nil {
					status = IterStream
				}
				return chunk, status, nil
			}
			if d.segIdx+1 < len(segs) {
				d.segIdx++
				d.segOff = 0
				continue
			}
		}
		if d.busy == nil {
			return nil, IterDone, nil
		}
		switch d.busy.Wait(d.have) {
		case objcore.WaitHaveData:
			continue
		case objcore.WaitDone:
			d.busy = nil
			continue
		case objcore.WaitError:
			return nil, IterError, d.busy.Err()
		}
	}
}

// DeliverEnd releases any delivery-local state. It does not touch the
// ObjCore's refcount; callers drop their own reference separately (taken
// when the lookup returned the Hit), matching spec.md §6's separation of
// deliver_begin/deliver_end from the refcounting contract in §3.
func (d *Delivery) DeliverEnd() {}
