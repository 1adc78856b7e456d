package storage

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// NukeFunc evicts one ObjCore from the head of an engine's LRU to free
// space, returning 1 on success or -1 if nothing could be evicted
// (spec.md §4.4 "Nuke-one"). It is supplied by the expiry package; storage
// itself has no notion of ObjCore so it only knows how to call back into
// it under a bounded retry budget.
type NukeFunc func() int

// Nuker bounds how many nuke_one attempts may be in flight at once across
// the whole process, using a weighted semaphore sized to config.Params's
// nuke_limit the way a connection pool bounds concurrent dials. This is
// distinct from (and composes with) the per-alloc retry cap described in
// spec.md §4.2 "Failure": the semaphore prevents a pressure storm from
// running thousands of concurrent LRU scans, while AllocWithNuke bounds how
// many times one caller retries before giving up.
type Nuker struct {
	sem *semaphore.Weighted
}

// NewNuker returns a Nuker permitting up to limit concurrent nuke_one
// scans.
func NewNuker(limit int64) *Nuker {
	if limit <= 0 {
		limit = 1
	}
	return &Nuker{sem: semaphore.NewWeighted(limit)}
}

// AllocWithNuke calls engine.Alloc(size); on ErrOutOfSpace it invokes nuke
// and retries, up to retryLimit times, per spec.md §4.2: "Callers escalate
// to nuke_one up to a configured nuke_limit retry count."
func (n *Nuker) AllocWithNuke(ctx context.Context, e Engine, size int, nuke NukeFunc, retryLimit uint32) (*Segment, error) {
	seg, err := e.Alloc(size)
	if err == nil {
		return seg, nil
	}
	for attempt := uint32(0); attempt < retryLimit; attempt++ {
		if err := n.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		evicted := nuke()
		n.sem.Release(1)
		if evicted < 0 {
			// Nothing left to evict anywhere on this engine's LRU; further
			// retries cannot help, so bail immediately per the documented
			// intent in spec.md §9 open question (a).
			return nil, ErrOutOfSpace
		}
		seg, err = e.Alloc(size)
		if err == nil {
			return seg, nil
		}
	}
	return nil, ErrOutOfSpace
}
