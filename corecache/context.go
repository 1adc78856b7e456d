// Package corecache wires the hash table, expiry engine, ban subsystem,
// storage registry and fetch glue together behind the single entry point
// spec.md §6 describes: lookup, beresp_cacheable, deliver_begin/iter/end,
// rearm, touch, ban_add, nuke_one. It is the analogue of how the teacher's
// eth/feemarket package wires a cache in front of chain events, or how
// triedb/pathdb wires a disk layer, a fastcache.Cache and a node buffer
// into one cohesive object: small domain packages at the repo root,
// combined by one orchestration type.
package corecache

import (
	"fmt"

	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/config"
	"github.com/coreproxy/cachecore/expiry"
	"github.com/coreproxy/cachecore/hashtable"
	"github.com/coreproxy/cachecore/log"
	"github.com/coreproxy/cachecore/metrics"
	"github.com/coreproxy/cachecore/objcore"
	"github.com/coreproxy/cachecore/storage"
)

// wakeWorkers bounds the waiting-list wakeup pool the hash table runs
// behind every Complete/Abandon (spec.md §4.3's "atomically wake the
// waiting list").
const wakeWorkers = 32

// Context is the caching core's external interface. One Context exists per
// process (or per shard, if a caller wants independent digests spaces);
// every field is already safe for concurrent use on its own, so Context
// itself carries no additional locking.
type Context struct {
	Params  *config.Params
	Metrics *metrics.Core
	Clock   common.Clock
	Storage *storage.Registry
	Table   *hashtable.Table
	Bans    *ban.List
	Expiry  *expiry.Engine
	Nuker   *storage.Nuker
	Lurker  *ban.Lurker

	logger log.Logger
}

// New constructs a Context. reg must already have every configured storage
// engine registered (via storage.NewFromToken + Registry.Register), plus,
// conventionally, a transient engine under storage.TransientIdent.
func New(clock common.Clock, params *config.Params, reg *storage.Registry) (*Context, error) {
	m := metrics.NewCore()
	bans := ban.New(params.BanDups(), m)

	c := &Context{
		Params:  params,
		Metrics: m,
		Clock:   clock,
		Storage: reg,
		Bans:    bans,
		logger:  log.New("component", "corecache"),
	}

	c.Expiry = expiry.New(clock, m, c.onExpire)

	table, err := hashtable.NewTable(bans, clock, m, wakeWorkers)
	if err != nil {
		return nil, fmt.Errorf("corecache: new table: %w", err)
	}
	c.Table = table

	c.Nuker = storage.NewNuker(int64(params.NukeLimit()))

	c.Lurker = ban.NewLurker(bans, c.banCandidates, c.banMarkDying, c.banAdvanceRef,
		clock, params.BanLurkerAge(), int(params.BanLurkerBatch()), params.BanLurkerSleep())

	return c, nil
}

// Start launches the Context's background threads: the expiry engine and
// the ban lurker. Storage engines must already have had Open called on
// them by the caller (they are configured and opened before a Context
// exists, mirroring the teacher's "construct, then Open, then wire"
// startup order).
func (c *Context) Start() {
	c.Expiry.Start()
	c.Lurker.Start()
}

// Close stops the background threads and the waiting-list wakeup pool.
// Storage engines are the caller's own responsibility to Close, since the
// Context never owned opening them either.
func (c *Context) Close() {
	c.Lurker.Stop()
	c.Expiry.Stop()
	c.Table.Close()
}

// onExpire is the expiry engine's RemoveFunc: invoked exactly once per
// ObjCore the instant it transitions from live to dying with the expiry
// engine's own reference released (spec.md §3 lifecycle step 6). The
// ObjCore is already detached from its LRU and out of the heap by the time
// this runs; what remains is detaching it from its ObjHead and dropping
// the reference the expiry engine itself held.
func (c *Context) onExpire(oc *objcore.ObjCore) {
	if head := oc.Head(); head != nil {
		head.Lock()
		head.RemoveCore(oc)
		head.Unlock()
	}
	c.derefCore(oc)
}

// derefCore drops one reference and, should it be the last, frees the
// Object's storage and updates n_object/n_objectcore.
func (c *Context) derefCore(oc *objcore.ObjCore) {
	oc.Deref(func(oc *objcore.ObjCore) {
		if oc.Object != nil {
			c.Metrics.NObject.Dec(1)
			oc.Object.Free()
		}
		c.Metrics.NObjectCore.Dec(1)
	})
}
