// Package storage implements the "stevedore" abstraction of spec.md §4.2:
// a polymorphic backing-memory provider for Object bodies, with file,
// malloc, synthetic and transient variants. The shape mirrors the teacher's
// own tagged-capability-interface style (triedb/pathdb/disklayer.go wraps
// a mutable vs. an immutable backend behind one small interface; this
// package does the same for "where do these bytes live").
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coreproxy/cachecore/lrulist"
	"github.com/coreproxy/cachecore/metrics"
)

// ErrOutOfSpace is returned by Alloc when the engine could not satisfy the
// request even after the caller has exhausted its nuke_limit retries
// (spec.md §4.2 "Failure").
var ErrOutOfSpace = errors.New("storage: out of space")

// Segment is a contiguous byte region owned by exactly one Object, as
// described in spec.md §3. Len is the portion written so far; Space is the
// allocated capacity. Segments are append-only during fetch and immutable
// afterwards.
type Segment struct {
	Engine Engine
	handle any // engine-private handle (file offset, fastcache key, ...)

	buf   []byte
	Len   int
	Space int
}

// Bytes returns the committed portion of the segment.
func (s *Segment) Bytes() []byte { return s.buf[:s.Len] }

// Extend appends p to the segment, growing Len. The caller must already
// hold whatever lock serializes concurrent writers to this Object (the
// fetcher is the only writer per spec.md §5's shared-resource policy).
func (s *Segment) Extend(p []byte) (int, error) {
	if s.Len+len(p) > s.Space {
		return 0, fmt.Errorf("storage: extend past segment capacity (%d+%d > %d)", s.Len, len(p), s.Space)
	}
	n := copy(s.buf[s.Len:s.Space], p)
	s.Len += n
	return n, nil
}

// Engine is the minimum capability set every storage backend supplies
// (spec.md §4.2 "Public contract").
type Engine interface {
	Name() string

	// Alloc returns a segment with Space >= size, rounding up as the
	// engine sees fit, or nil+ErrOutOfSpace.
	Alloc(size int) (*Segment, error)

	// Free returns a segment's backing memory to the engine.
	Free(seg *Segment)

	// Open/Close are engine lifecycle hooks, called once at core startup
	// and shutdown respectively.
	Open() error
	Close() error

	// LRU is the per-engine recency list every ObjCore stored here is
	// linked onto (spec.md §3 "one LRU list" per engine).
	LRU() *lrulist.List

	// Counters exposes the per-store gauge set (spec.md §6).
	Counters() *metrics.StoreCounters
}

// Trimmer is optionally implemented by engines that can shrink a segment
// in place and reclaim the freed tail (spec.md §4.2).
type Trimmer interface {
	Trim(seg *Segment, newLen int) error
}

// Extender is optionally implemented by engines offering body-oriented
// shortcuts so fetch can stream without intermediate copies.
type Extender interface {
	GetSpace(seg *Segment, want int) (int, error)
	ExtendSeg(seg *Segment, n int) error
}

// Slimmer is optionally implemented by engines that can release all body
// storage for an object while retaining out-of-band attributes (used by
// the nuke path, spec.md §4.4).
type Slimmer interface {
	Slim(segs []*Segment) error
}

// baseEngine factors out the LRU list and counters every concrete engine
// needs, mirroring how the teacher's disklayer/diskLayer wraps a shared
// cache regardless of backend.
type baseEngine struct {
	mu       sync.Mutex
	name     string
	lru      *lrulist.List
	counters *metrics.StoreCounters
}

func newBaseEngine(name string) baseEngine {
	return baseEngine{
		name:     name,
		lru:      lrulist.New(),
		counters: metrics.NewStoreCounters(name),
	}
}

func (b *baseEngine) Name() string                       { return b.name }
func (b *baseEngine) LRU() *lrulist.List                 { return b.lru }
func (b *baseEngine) Counters() *metrics.StoreCounters    { return b.counters }
