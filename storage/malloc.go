package storage

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
)

// MallocEngine is the heap-backed variant of spec.md §4.2: "single-segment
// slab per alloc". Alloc hands out a plain make([]byte, n) buffer and tags
// the segment with a monotonic uint64 key. The engine also holds a
// VictoriaMetrics/fastcache instance: segment bytes reach it only through
// commitKey, which nothing calls, and Free deletes the segment's key from
// it. Segment bodies are therefore ordinary Go heap memory.
type MallocEngine struct {
	baseEngine

	cache   *fastcache.Cache
	nextKey uint64
}

// NewMallocEngine creates a heap-backed engine with an approximate memory
// budget of maxBytes (fastcache pre-sizes its internal buckets from this).
func NewMallocEngine(name string, maxBytes int) *MallocEngine {
	return &MallocEngine{
		baseEngine: newBaseEngine(name),
		cache:      fastcache.New(maxBytes),
	}
}

func (e *MallocEngine) Open() error  { return nil }
func (e *MallocEngine) Close() error { e.cache.Reset(); return nil }

func (e *MallocEngine) Alloc(size int) (*Segment, error) {
	if size < 0 {
		return nil, ErrOutOfSpace
	}
	key := atomic.AddUint64(&e.nextKey, 1)
	buf := make([]byte, size)
	seg := &Segment{Engine: e, handle: key, buf: buf, Space: size}
	e.counters.GBytes.Inc(0)
	e.counters.GSpace.Inc(int64(size))
	e.counters.GAlloc.Inc(1)
	return seg, nil
}

func (e *MallocEngine) Free(seg *Segment) {
	key, ok := seg.handle.(uint64)
	if !ok {
		return
	}
	var kb [8]byte
	putUint64(kb[:], key)
	e.cache.Del(kb[:])
	e.counters.GBytes.Dec(int64(seg.Len))
	e.counters.GSpace.Dec(int64(seg.Space))
	e.counters.GAlloc.Dec(1)
}

// Trim shrinks the segment's reported length, returning the unused tail's
// capacity to the engine's space accounting. fastcache itself has no
// partial-free concept, so the underlying buffer is kept but Space is
// reduced so future accounting (g_space) reflects only the live portion.
func (e *MallocEngine) Trim(seg *Segment, newLen int) error {
	if newLen > seg.Len {
		return nil
	}
	freed := seg.Space - newLen
	seg.Space = newLen
	if seg.Len > newLen {
		seg.Len = newLen
	}
	e.counters.GSpace.Dec(int64(freed))
	return nil
}

// commitKey flushes a segment's current bytes into the fastcache instance
// under its allocation key. No caller in this package uses it; Slim frees
// the segments instead.
func (e *MallocEngine) commitKey(seg *Segment) {
	key, ok := seg.handle.(uint64)
	if !ok {
		return
	}
	var kb [8]byte
	putUint64(kb[:], key)
	e.cache.Set(kb[:], seg.Bytes())
}

func (e *MallocEngine) Slim(segs []*Segment) error {
	for _, seg := range segs {
		e.Free(seg)
	}
	return nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

var _ Trimmer = (*MallocEngine)(nil)
var _ Slimmer = (*MallocEngine)(nil)

// mallocStats returns a snapshot of fastcache's own counters. It is not
// called anywhere and does not feed the g_* metrics.
func (e *MallocEngine) mallocStats() fastcache.Stats {
	var st fastcache.Stats
	e.cache.UpdateStats(&st)
	return st
}
