package expiry

import (
	"testing"
	"time"

	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/lrulist"
	"github.com/coreproxy/cachecore/metrics"
	"github.com/coreproxy/cachecore/objcore"
	"github.com/coreproxy/cachecore/storage"
)

func newTestEngine(t *testing.T, clock *common.ManualClock) (*Engine, chan *objcore.ObjCore) {
	t.Helper()
	expired := make(chan *objcore.ObjCore, 64)
	e := New(clock, metrics.NewCore(), func(oc *objcore.ObjCore) {
		expired <- oc
	})
	e.Start()
	t.Cleanup(e.Stop)
	return e, expired
}

func newOCWithEngine(t *testing.T) (*objcore.ObjCore, storage.Engine) {
	t.Helper()
	eng := storage.NewSyntheticEngine()
	oc := objcore.NewObjCore()
	oc.Engine = eng
	return oc, eng
}

func TestInsertThenExpire(t *testing.T) {
	clock := common.NewManualClock(time.Unix(1000, 0))
	e, expired := newTestEngine(t, clock)

	oc, eng := newOCWithEngine(t)
	oc.TOrigin = clock.Now()
	oc.TTL = time.Second

	e.Insert(oc)
	time.Sleep(20 * time.Millisecond) // let the inbox drain onto the heap

	if e.HeapLen() != 1 {
		t.Fatalf("expected 1 heap entry after insert, got %d", e.HeapLen())
	}

	clock.Advance(2 * time.Second)

	select {
	case got := <-expired:
		if got != oc {
			t.Fatalf("expected expired ObjCore to match inserted one")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for expiry")
	}
	_ = eng
}

func TestDyingRemovesFromHeapWithoutExpiring(t *testing.T) {
	clock := common.NewManualClock(time.Unix(1000, 0))
	e, expired := newTestEngine(t, clock)

	oc, _ := newOCWithEngine(t)
	oc.TOrigin = clock.Now()
	oc.TTL = time.Hour

	e.Insert(oc)
	time.Sleep(20 * time.Millisecond)
	e.Dying(oc)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dying removal")
	}
	if e.HeapLen() != 0 {
		t.Fatalf("expected heap empty after dying, got %d", e.HeapLen())
	}
}

func TestNukeOneOnEmptyLRUReturnsNegativeOne(t *testing.T) {
	clock := common.NewManualClock(time.Unix(1000, 0))
	e, _ := newTestEngine(t, clock)

	lru := lrulist.New()
	if got := e.NukeOne(lru); got != -1 {
		t.Fatalf("expected -1 from nuke_one on empty lru, got %d", got)
	}
}

func TestNukeOneSkipsReferencedObjCore(t *testing.T) {
	clock := common.NewManualClock(time.Unix(1000, 0))
	e, _ := newTestEngine(t, clock)

	oc, _ := newOCWithEngine(t)
	h := objcore.NewObjHead(common.NewDigest([]byte("k")))
	h.Lock()
	h.AddCore(oc)
	h.Unlock()
	oc.Ref() // refcount 2: in use, must be skipped

	lru := lrulist.New()
	lru.PushTail(&oc.Node)

	if got := e.NukeOne(lru); got != -1 {
		t.Fatalf("expected -1 when only candidate is referenced, got %d", got)
	}
}
