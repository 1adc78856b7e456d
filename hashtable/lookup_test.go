package hashtable

import (
	"testing"
	"time"

	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/metrics"
	"github.com/coreproxy/cachecore/objcore"
	"github.com/stretchr/testify/require"
)

func alwaysVary(oc *objcore.ObjCore) bool { return true }

func noFields(oc *objcore.ObjCore) ban.Fields { return ban.Fields{} }

func newTestTable(t *testing.T) (*Table, *ban.List, *common.ManualClock) {
	t.Helper()
	clock := common.NewManualClock(time.Unix(1000, 0))
	m := metrics.NewCore()
	bans := ban.New(false, m)
	tbl, err := NewTable(bans, clock, m, 4)
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	return tbl, bans, clock
}

func TestLookupMissThenCompleteYieldsHit(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/a"))

	res, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, res.Outcome)
	require.NotNil(t, res.Busy)

	res.OC.TOrigin = time.Unix(1000, 0)
	res.OC.TTL = 60 * time.Second
	tbl.Complete(res.Head, res.OC, true)
	tbl.Release(res.Head)

	res2, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Hit, res2.Outcome)
	require.Same(t, res.OC, res2.OC)
	tbl.Release(res2.Head)
}

func TestLookupAbandonDetachesCore(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/b"))

	res, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, res.Outcome)

	tbl.Abandon(res.Head, res.OC)
	tbl.Release(res.Head)

	require.True(t, res.OC.Is(objcore.Dying))

	res2, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, res2.Outcome)
	require.NotSame(t, res.OC, res2.OC)
	tbl.Abandon(res2.Head, res2.OC)
	tbl.Release(res2.Head)
}

func TestLookupCoalescesConcurrentFetchers(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/c"))

	first, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, first.Outcome)

	done := make(chan *Result, 1)
	go func() {
		r, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
		require.NoError(t, err)
		done <- r
	}()

	// Give the second caller time to park behind the busy fetch before we
	// complete it.
	time.Sleep(20 * time.Millisecond)

	first.OC.TOrigin = time.Unix(1000, 0)
	first.OC.TTL = 60 * time.Second
	tbl.Complete(first.Head, first.OC, true)
	tbl.Release(first.Head)

	select {
	case r := <-done:
		require.Equal(t, Hit, r.Outcome)
		require.Same(t, first.OC, r.OC)
		tbl.Release(r.Head)
	case <-time.After(time.Second):
		t.Fatal("second lookup never woke from the waiting list")
	}
}

func TestLookupIgnoreBusySkipsCoalescing(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/d"))

	first, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, first.Outcome)

	second, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{IgnoreBusy: true})
	require.NoError(t, err)
	require.Equal(t, Miss, second.Outcome)
	require.NotSame(t, first.OC, second.OC)

	tbl.Abandon(second.Head, second.OC)
	tbl.Release(second.Head)
	tbl.Abandon(first.Head, first.OC)
	tbl.Release(first.Head)
}

// TestLookupPastTTLNoBusyBecomesMiss covers spec.md §4.3 step 3/5: grace is
// only servable while a fetch is already running on the head. With no
// concurrent fetch, the first requester past TTL must become the fetcher
// (Miss), not be served the stale grace body.
func TestLookupPastTTLNoBusyBecomesMiss(t *testing.T) {
	tbl, _, clock := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/f"))

	res, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	res.OC.TOrigin = time.Unix(1000, 0)
	res.OC.TTL = time.Second
	res.OC.Grace = 30 * time.Second
	tbl.Complete(res.Head, res.OC, true)
	tbl.Release(res.Head)

	clock.Set(time.Unix(1002, 0)) // past TTL (+2s), well within the 30s grace window

	res2, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, res2.Outcome)
	tbl.Abandon(res2.Head, res2.OC)
	tbl.Release(res2.Head)
}

// TestLookupServesGraceWhileFetchRunning is §8 scenario 3: object D3 with
// ttl=1, grace=30 inserted at t0; at t0+2, while a fetcher for D3 is
// already running (a backfill/revalidation), a request arrives and must be
// served the stale body instead of parking or becoming its own fetcher.
func TestLookupServesGraceWhileFetchRunning(t *testing.T) {
	tbl, _, clock := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/g"))

	res, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	res.OC.TOrigin = time.Unix(1000, 0)
	res.OC.TTL = time.Second
	res.OC.Grace = 30 * time.Second
	tbl.Complete(res.Head, res.OC, true)

	clock.Set(time.Unix(1002, 0))

	// A background revalidation fetch is already running on this head.
	fetcher := objcore.NewObjCore()
	fetcher.SetFlags(objcore.Busy)
	bo := objcore.NewBusyObject()
	bo.ObjCore = fetcher
	res.Head.Lock()
	res.Head.AddCore(fetcher)
	res.Head.SetBusy(bo)
	res.Head.Unlock()

	res2, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Hit, res2.Outcome)
	require.True(t, res2.NeedsRevalidate)
	require.Same(t, res.OC, res2.OC)
	tbl.Release(res2.Head)

	tbl.Complete(res.Head, fetcher, true)
	tbl.Release(res.Head)
}

// TestLookupAlwaysMissBypassesBusyWithoutStealingSlot covers spec.md §4.3
// step 4 (hash_always_miss) and the ObjHead invariant that only one
// BusyObject may be installed at a time: the always-miss caller gets its
// own private fetcher core, and completing it first must not clear the
// original fetch's busy slot.
func TestLookupAlwaysMissBypassesBusyWithoutStealingSlot(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/h"))

	first, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, first.Outcome)

	second, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{AlwaysMiss: true})
	require.NoError(t, err)
	require.Equal(t, Miss, second.Outcome)
	require.NotSame(t, first.OC, second.OC)
	require.True(t, second.OC.Is(objcore.Private))

	// Completing the always-miss fetch must not clobber the original
	// fetch's slot on the head.
	tbl.Complete(second.Head, second.OC, true)
	require.NotNil(t, second.Head.Busy())
	require.Same(t, first.OC, second.Head.Busy().ObjCore)
	tbl.Release(second.Head)

	tbl.Complete(first.Head, first.OC, true)
	tbl.Release(first.Head)
}

func TestLookupBanMatchRemovesCandidate(t *testing.T) {
	tbl, bans, _ := newTestTable(t)
	digest := common.NewDigest([]byte("GET"), []byte("example.com"), []byte("/e"))

	res, err := tbl.Lookup(digest, alwaysVary, noFields, Hints{})
	require.NoError(t, err)
	res.OC.TOrigin = time.Unix(1000, 0)
	res.OC.TTL = 60 * time.Second
	tbl.Complete(res.Head, res.OC, true)
	tbl.Release(res.Head)

	_, err = bans.Add(time.Unix(1000, 0), `req.url == "/e"`, []ban.Predicate{
		{Field: "req.url", Op: ban.OpEqual, Operand: "/e"},
	})
	require.NoError(t, err)

	fields := func(oc *objcore.ObjCore) ban.Fields { return ban.Fields{"req.url": "/e"} }
	res2, err := tbl.Lookup(digest, alwaysVary, fields, Hints{})
	require.NoError(t, err)
	require.Equal(t, Miss, res2.Outcome)
	tbl.Abandon(res2.Head, res2.OC)
	tbl.Release(res2.Head)
}
