package corecache

import (
	"net/http"
	"testing"
	"time"

	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/config"
	"github.com/coreproxy/cachecore/fetch"
	"github.com/coreproxy/cachecore/hashtable"
	"github.com/coreproxy/cachecore/objcore"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) (*Context, *common.ManualClock) {
	t.Helper()
	clock := common.NewManualClock(time.Unix(1000, 0))
	params := config.NewParams()
	reg, err := NewRegistry(nil, 4<<20)
	require.NoError(t, err)
	ctx, err := New(clock, params, reg)
	require.NoError(t, err)
	ctx.Start()
	t.Cleanup(func() {
		ctx.Close()
		require.NoError(t, CloseRegistry(reg))
	})
	return ctx, clock
}

func completeWithBody(t *testing.T, ctx *Context, res *hashtable.Result, req *Request, body string, cc string) {
	t.Helper()
	obj := objcore.NewObject()
	seg, err := ctx.Storage.Transient().Alloc(len(body))
	require.NoError(t, err)
	_, err = seg.Extend([]byte(body))
	require.NoError(t, err)
	obj.AppendSegment(seg)

	decision := ctx.BerespCacheable(200, http.Header{"Cache-Control": {cc}})
	engine := ctx.PickEngine("Transient", decision)
	ctx.CompleteFetch(res.Head, res.OC, obj, req, 200, decision, engine)
}

func TestLookupMissFetchCompleteThenHit(t *testing.T) {
	ctx, clock := newTestContext(t)
	req := &Request{Method: "GET", Host: "example.com", URL: "/a", Header: http.Header{}}

	res, err := ctx.Lookup(req, hashtable.Hints{})
	require.NoError(t, err)
	require.Equal(t, hashtable.Miss, res.Outcome)
	require.NotNil(t, res.OC)

	completeWithBody(t, ctx, res, req, "hello", "max-age=60")
	ctx.ReleaseHead(res.Head)

	res2, err := ctx.Lookup(req, hashtable.Hints{})
	require.NoError(t, err)
	require.Equal(t, hashtable.Hit, res2.Outcome)
	require.Same(t, res.OC, res2.OC)

	delivery := ctx.DeliverBegin(res2)
	chunk, status, err := delivery.Next()
	require.NoError(t, err)
	require.Equal(t, "hello", string(chunk))
	require.Equal(t, fetch.IterData, status)

	_, status, err = delivery.Next()
	require.NoError(t, err)
	require.Equal(t, fetch.IterDone, status)

	ctx.Touch(res2.OC, clock.Now())
	ctx.ReleaseHead(res2.Head)
}

func TestBanMatchOnLookupRemovesCandidate(t *testing.T) {
	ctx, _ := newTestContext(t)
	req := &Request{Method: "GET", Host: "example.com", URL: "/a", Header: http.Header{}}

	res, err := ctx.Lookup(req, hashtable.Hints{})
	require.NoError(t, err)
	require.Equal(t, hashtable.Miss, res.Outcome)
	completeWithBody(t, ctx, res, req, "hello", "max-age=60")
	ctx.ReleaseHead(res.Head)

	_, err = ctx.BanAdd(`req.url == "/a"`, []ban.Predicate{{Field: "req.url", Op: ban.OpEqual, Operand: "/a"}})
	require.NoError(t, err)

	res2, err := ctx.Lookup(req, hashtable.Hints{})
	require.NoError(t, err)
	require.Equal(t, hashtable.Miss, res2.Outcome, "the banned candidate must not be served as a hit")
	require.Equal(t, int64(1), ctx.Metrics.NBan.Count())
	ctx.ReleaseHead(res2.Head)
}

func TestRearmShortensPastNowMarksDying(t *testing.T) {
	ctx, clock := newTestContext(t)
	req := &Request{Method: "GET", Host: "example.com", URL: "/b", Header: http.Header{}}

	res, err := ctx.Lookup(req, hashtable.Hints{})
	require.NoError(t, err)
	completeWithBody(t, ctx, res, req, "body", "max-age=600")
	ctx.ReleaseHead(res.Head)

	clock.Advance(time.Second)
	ctx.Rearm(res.OC, 0, 0, 0)

	require.Eventually(t, func() bool {
		return res.OC.Is(objcore.Dying)
	}, time.Second, time.Millisecond)
}
