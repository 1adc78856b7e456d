// Package expiry implements the binary... in practice 4-ary min-heap and
// its dedicated background thread from spec.md §4.4: external callers
// never touch the heap directly, they post ObjCores to an inbox mailbox,
// and a single goroutine drains it, maintains the heap, and expires
// objects as wall time advances. Keys are 32-bit whole seconds since a
// movable epoch so the heap element stays small and cache-friendly, the
// same tradeoff spec.md documents for the original C heap.
package expiry

import (
	"github.com/coreproxy/cachecore/objcore"
)

// arity is the heap's branching factor (spec.md §4.4 "4-heap layout for
// cache-friendliness").
const arity = 4

// entry is one heap slot: an ObjCore and its current 32-bit deadline key,
// relative to the engine's current epoch.
type entry struct {
	oc  *objcore.ObjCore
	key uint32
}

// heap is a 4-ary min-heap of entry, indexed so each element's index is
// mirrored onto its ObjCore's HeapIdx field for O(log n) reorder/delete
// (spec.md §4.4 "The heap stores a back-pointer from each element to its
// index").
type heap struct {
	slots []entry
}

func newHeap() *heap {
	return &heap{}
}

func (h *heap) Len() int { return len(h.slots) }

func parent(i int) int  { return (i - 1) / arity }
func child(i, k int) int { return i*arity + 1 + k }

func (h *heap) less(i, j int) bool { return h.slots[i].key < h.slots[j].key }

func (h *heap) swap(i, j int) {
	h.slots[i], h.slots[j] = h.slots[j], h.slots[i]
	h.slots[i].oc.HeapIdx = i
	h.slots[j].oc.HeapIdx = j
}

// Insert adds oc at key, returning its heap index.
func (h *heap) Insert(oc *objcore.ObjCore, key uint32) int {
	i := len(h.slots)
	h.slots = append(h.slots, entry{oc: oc, key: key})
	oc.HeapIdx = i
	h.siftUp(i)
	return oc.HeapIdx
}

// Reorder changes the key of the entry at oc's current heap index and
// restores heap order, in O(log n) (spec.md §4.4 "reorder(entry,
// new_key)").
func (h *heap) Reorder(oc *objcore.ObjCore, newKey uint32) {
	i := oc.HeapIdx
	if i < 0 || i >= len(h.slots) || h.slots[i].oc != oc {
		panic("expiry: reorder of ObjCore not present in heap")
	}
	old := h.slots[i].key
	h.slots[i].key = newKey
	if newKey < old {
		h.siftUp(i)
	} else {
		h.siftDown(i)
	}
}

// Delete removes oc from the heap, wherever it currently sits, in
// O(log n) (spec.md §4.4 "delete(entry)").
func (h *heap) Delete(oc *objcore.ObjCore) {
	i := oc.HeapIdx
	if i < 0 || i >= len(h.slots) || h.slots[i].oc != oc {
		return
	}
	last := len(h.slots) - 1
	h.swap(i, last)
	h.slots = h.slots[:last]
	oc.HeapIdx = -1
	if i < len(h.slots) {
		h.siftDown(i)
		h.siftUp(i)
	}
}

// Root returns the minimum-key entry without removing it, or ok=false if
// the heap is empty.
func (h *heap) Root() (oc *objcore.ObjCore, key uint32, ok bool) {
	if len(h.slots) == 0 {
		return nil, 0, false
	}
	return h.slots[0].oc, h.slots[0].key, true
}

// PopRoot removes and returns the minimum-key entry.
func (h *heap) PopRoot() (oc *objcore.ObjCore, key uint32, ok bool) {
	if len(h.slots) == 0 {
		return nil, 0, false
	}
	oc, key = h.slots[0].oc, h.slots[0].key
	h.Delete(oc)
	return oc, key, true
}

func (h *heap) siftUp(i int) {
	for i > 0 {
		p := parent(i)
		if !h.less(i, p) {
			break
		}
		h.swap(i, p)
		i = p
	}
}

func (h *heap) siftDown(i int) {
	n := len(h.slots)
	for {
		smallest := i
		for k := 0; k < arity; k++ {
			c := child(i, k)
			if c < n && h.less(c, smallest) {
				smallest = c
			}
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}

// All returns every entry currently in the heap, for epoch reset, which
// must drain and re-key every live element (spec.md §4.4 "Epoch reset").
func (h *heap) All() []entry {
	return append([]entry(nil), h.slots...)
}

// Clear empties the heap without touching ObjCore refcounts; callers
// re-insert each surviving entry themselves during an epoch reset.
func (h *heap) Clear() {
	for i := range h.slots {
		h.slots[i].oc.HeapIdx = -1
	}
	h.slots = h.slots[:0]
}
