package objcore

import (
	"testing"
	"time"

	"github.com/coreproxy/cachecore/common"
)

func TestFlagsDyingIsMonotonic(t *testing.T) {
	oc := NewObjCore()
	oc.SetFlags(Dying)
	oc.ClearFlags(Dying)
	if !oc.Is(Dying) {
		t.Fatalf("expected DYING to remain set after clear attempt")
	}
}

func TestFlagsSetAndClear(t *testing.T) {
	oc := NewObjCore()
	oc.SetFlags(Busy | Private)
	if !oc.Is(Busy) || !oc.Is(Private) {
		t.Fatalf("expected BUSY|PRIVATE set")
	}
	oc.ClearFlags(Busy)
	if oc.Is(Busy) {
		t.Fatalf("expected BUSY cleared")
	}
	if !oc.Is(Private) {
		t.Fatalf("expected PRIVATE to remain set")
	}
}

func TestDerefInvokesOnZeroExactlyOnce(t *testing.T) {
	oc := NewObjCore()
	oc.Ref() // refcount now 2
	calls := 0
	onZero := func(*ObjCore) { calls++ }

	oc.Deref(onZero)
	if calls != 0 {
		t.Fatalf("expected onZero not called yet, refcount should be 1")
	}
	oc.Deref(onZero)
	if calls != 1 {
		t.Fatalf("expected onZero called exactly once, got %d", calls)
	}
}

func TestDerefBelowZeroPanics(t *testing.T) {
	oc := NewObjCore()
	oc.Deref(nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on refcount underflow")
		}
	}()
	oc.Deref(nil)
}

func TestDeadlineIsSumOfIntervals(t *testing.T) {
	oc := NewObjCore()
	oc.TOrigin = time.Unix(1000, 0)
	oc.TTL = 60 * time.Second
	oc.Grace = 10 * time.Second
	oc.Keep = 5 * time.Second

	want := time.Unix(1075, 0)
	if !oc.Deadline().Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, oc.Deadline())
	}
}

func TestObjHeadAddRemoveCore(t *testing.T) {
	h := NewObjHead(common.NewDigest([]byte("key")))
	oc := NewObjCore()

	h.Lock()
	h.AddCore(oc)
	if len(h.Cores()) != 1 {
		t.Fatalf("expected 1 core after add")
	}
	if !h.RemoveCore(oc) {
		t.Fatalf("expected remove to report found")
	}
	if !h.Empty() {
		t.Fatalf("expected head empty after removing only core")
	}
	h.Unlock()
}

func TestObjHeadAtMostOneBusy(t *testing.T) {
	h := NewObjHead(common.NewDigest([]byte("key")))
	bo1 := NewBusyObject()
	bo2 := NewBusyObject()

	h.Lock()
	h.SetBusy(bo1)
	defer h.Unlock()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic installing a second busy object")
		}
	}()
	h.SetBusy(bo2)
}

func TestWaitingListParkAndWakeAll(t *testing.T) {
	h := NewObjHead(common.NewDigest([]byte("key")))
	h.Lock()
	wl := h.WaitingListOrCreate()
	w1 := wl.Park()
	w2 := wl.Park()
	if wl.Len() != 2 {
		t.Fatalf("expected 2 parked waiters")
	}
	wl.WakeAll(WakeRedoLookup)
	h.Unlock()

	if r := w1.Wait(time.Time{}); r != WakeRedoLookup {
		t.Fatalf("expected w1 woken with WakeRedoLookup, got %v", r)
	}
	if r := w2.Wait(time.Time{}); r != WakeRedoLookup {
		t.Fatalf("expected w2 woken with WakeRedoLookup, got %v", r)
	}
	if wl.Len() != 0 {
		t.Fatalf("expected waiting list empty after WakeAll")
	}
}

func TestBusyObjectStreamingVisibility(t *testing.T) {
	bo := NewBusyObject()
	done := make(chan WaitResult, 1)
	go func() {
		done <- bo.Wait(0)
	}()

	bo.Extend(5)
	if r := <-done; r != WaitHaveData {
		t.Fatalf("expected WaitHaveData, got %v", r)
	}
}

func TestBusyObjectFailWakesWaiters(t *testing.T) {
	bo := NewBusyObject()
	done := make(chan WaitResult, 1)
	go func() {
		done <- bo.Wait(0)
	}()

	bo.Fail(errTest, CloseOriginError)
	if r := <-done; r != WaitError {
		t.Fatalf("expected WaitError, got %v", r)
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errTest = testErr("origin failed")
