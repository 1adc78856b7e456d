package objcore

import (
	"net/http"
	"sync"
	"time"

	"github.com/coreproxy/cachecore/storage"
	"github.com/coreproxy/cachecore/vary"
	"github.com/google/uuid"
)

// GzipBits records the byte offsets Varnish calls the gzip "bits": where
// the gzip member starts, where the last deflate block starts, and where
// the stream stops, so a gunzip filter downstream of storage can splice in
// an Accept-Encoding-aware transform without re-parsing the member headers
// (spec.md §3 "gzip bit positions (start/last/stop)").
type GzipBits struct {
	Start, Last, Stop int64
}

// ESIChild is one child fragment reference for an Edge Side Includes
// fragment tree (spec.md §3 "optional ESI child data"). The fetch
// pipeline's ESI filter locates and records the references; nothing in
// this module fetches or expands them. Object only carries the parsed
// reference list.
type ESIChild struct {
	URL    string
	Offset int64 // byte offset in the parent body where this fragment is spliced
}

// Object is the full body metadata held inside Storage-owned memory
// (spec.md §3 "Object"). It is exclusively owned by its ObjCore.
type Object struct {
	Headers http.Header
	VaryKey vary.Spec
	Gzip    GzipBits
	Gzipped bool
	LastMod time.Time
	ESI     []ESIChild
	XID     uuid.UUID

	// URL and Status record the request URL and response status the
	// object was fetched for, so ban predicates against req.url/obj.status
	// (spec.md §4.6) have something concrete to test without re-deriving
	// them from the ObjHead digest.
	URL    string
	Status int

	// segMu guards the Segments slice header itself: during a fetch the
	// fetcher appends new segments (AppendSegment) while any number of
	// concurrent deliveries read the slice (SegmentsSnapshot), and a bare
	// slice is not safe to append to and range over at once (spec.md §5
	// "Storage segments during fetch are mutated only by the fetcher;
	// readers see already-committed bytes" governs segment *contents*,
	// not the Go slice header holding them).
	segMu    sync.Mutex
	Segments []*storage.Segment
}

// NewObject returns an Object with a fresh transaction id.
func NewObject() *Object {
	return &Object{
		Headers: make(http.Header),
		XID:     uuid.New(),
	}
}

// Len returns the total committed body length across all segments.
func (o *Object) Len() int64 {
	o.segMu.Lock()
	defer o.segMu.Unlock()
	var n int64
	for _, s := range o.Segments {
		n += int64(s.Len)
	}
	return n
}

// AppendSegment adds a new body segment, as produced by a fetch filter
// writing into storage (spec.md §3 "An Object owns an ordered list of
// segments; concatenation is the body.").
func (o *Object) AppendSegment(s *storage.Segment) {
	o.segMu.Lock()
	o.Segments = append(o.Segments, s)
	o.segMu.Unlock()
}

// SegmentsSnapshot returns the current segment list. Safe to call while a
// fetcher is concurrently appending via AppendSegment; the returned slice
// is a point-in-time copy of the header, so further appends never race
// with a delivery ranging over it. Segment contents already committed
// (s.Bytes()) remain valid to read without further locking, per spec.md
// §5(c).
func (o *Object) SegmentsSnapshot() []*storage.Segment {
	o.segMu.Lock()
	defer o.segMu.Unlock()
	return append([]*storage.Segment(nil), o.Segments...)
}

// Free returns every segment's storage to its owning engine. Called once,
// when the owning ObjCore's refcount reaches zero (spec.md §3 lifecycle
// step 6).
func (o *Object) Free() {
	o.segMu.Lock()
	segs := o.Segments
	o.Segments = nil
	o.segMu.Unlock()
	for _, s := range segs {
		if s.Engine != nil {
			s.Engine.Free(s)
		}
	}
}

// Slim releases body storage while retaining headers and attributes, used
// by the nuke path when an engine supports it (spec.md §4.2 "slim to
// release all body storage while retaining headers").
func (o *Object) Slim() error {
	o.segMu.Lock()
	segs := o.Segments
	o.Segments = nil
	o.segMu.Unlock()
	for _, s := range segs {
		if sl, ok := s.Engine.(storage.Slimmer); ok {
			if err := sl.Slim([]*storage.Segment{s}); err != nil {
				return err
			}
		} else {
			s.Engine.Free(s)
		}
	}
	return nil
}
