package storage

// SyntheticEngine backs objects produced by the core itself rather than an
// origin fetch: canned error pages (502, 504, synthetic bans response,
// ...), per spec.md §3 "synthetic (error pages produced on demand)".
// Allocation is a plain make([]byte) since synthetic bodies are small and
// short-lived; there is no fragmentation concern worth a free-list.
type SyntheticEngine struct {
	baseEngine
}

// NewSyntheticEngine returns the synthetic engine. One instance is shared
// process-wide; it is registered under the well-known name "synthetic" and
// never addressed by a configuration token.
func NewSyntheticEngine() *SyntheticEngine {
	return &SyntheticEngine{baseEngine: newBaseEngine("synthetic")}
}

func (e *SyntheticEngine) Open() error  { return nil }
func (e *SyntheticEngine) Close() error { return nil }

func (e *SyntheticEngine) Alloc(size int) (*Segment, error) {
	if size < 0 {
		return nil, ErrOutOfSpace
	}
	buf := make([]byte, size)
	seg := &Segment{Engine: e, buf: buf, Space: size}
	e.counters.GBytes.Inc(0)
	e.counters.GSpace.Inc(int64(size))
	e.counters.GAlloc.Inc(1)
	return seg, nil
}

func (e *SyntheticEngine) Free(seg *Segment) {
	e.counters.GBytes.Dec(int64(seg.Len))
	e.counters.GSpace.Dec(int64(seg.Space))
	e.counters.GAlloc.Dec(1)
}

// NewSynthetic allocates and fills a single segment with body in one call,
// the common path for synthetic responses which are fully known up front.
func (e *SyntheticEngine) NewSynthetic(body []byte) (*Segment, error) {
	seg, err := e.Alloc(len(body))
	if err != nil {
		return nil, err
	}
	if _, err := seg.Extend(body); err != nil {
		return nil, err
	}
	return seg, nil
}
