package storage

import (
	"context"
	"testing"
)

// fullEngine always fails Alloc until its space is freed by a nuke call,
// simulating an engine under space pressure (spec.md scenario 4).
type fullEngine struct {
	baseEngine
	full bool
}

func newFullEngine() *fullEngine {
	return &fullEngine{baseEngine: newBaseEngine("full"), full: true}
}

func (e *fullEngine) Open() error  { return nil }
func (e *fullEngine) Close() error { return nil }

func (e *fullEngine) Alloc(size int) (*Segment, error) {
	if e.full {
		return nil, ErrOutOfSpace
	}
	return &Segment{Engine: e, buf: make([]byte, size), Space: size}, nil
}

func (e *fullEngine) Free(seg *Segment) {}

func TestAllocWithNukeRetriesThenSucceeds(t *testing.T) {
	e := newFullEngine()
	n := NewNuker(1)
	calls := 0
	nuke := func() int {
		calls++
		e.full = false
		return 1
	}

	seg, err := n.AllocWithNuke(context.Background(), e, 32, nuke, 3)
	if err != nil {
		t.Fatalf("expected success after nuke, got %v", err)
	}
	if seg == nil {
		t.Fatalf("expected non-nil segment")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one nuke call, got %d", calls)
	}
}

func TestAllocWithNukeBailsWhenNothingToEvict(t *testing.T) {
	e := newFullEngine()
	n := NewNuker(1)
	nuke := func() int { return -1 }

	_, err := n.AllocWithNuke(context.Background(), e, 32, nuke, 5)
	if err != ErrOutOfSpace {
		t.Fatalf("expected ErrOutOfSpace, got %v", err)
	}
}

func TestAllocWithNukeGivesUpAfterRetryLimit(t *testing.T) {
	e := newFullEngine()
	n := NewNuker(1)
	calls := 0
	nuke := func() int {
		calls++
		return 1 // evicts something each time, but Alloc still fails (e.full never cleared)
	}

	_, err := n.AllocWithNuke(context.Background(), e, 32, nuke, 3)
	if err != ErrOutOfSpace {
		t.Fatalf("expected ErrOutOfSpace after exhausting retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 nuke calls, got %d", calls)
	}
}
