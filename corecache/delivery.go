package corecache

import (
	"time"

	"github.com/coreproxy/cachecore/fetch"
	"github.com/coreproxy/cachecore/hashtable"
	"github.com/coreproxy/cachecore/objcore"
)

// DeliverBegin starts a streaming delivery over a Lookup result (spec.md
// §6 "deliver_begin(oc) -> iterator"). res.Busy is nil for a plain Hit
// (the object is already fully cached) and set when the caller is the
// fetcher that owns the in-progress BusyObject, in which case Delivery
// transparently streams bytes as they are committed.
func (c *Context) DeliverBegin(res *hashtable.Result) *fetch.Delivery {
	return fetch.DeliverBegin(res.OC, res.Busy)
}

// Touch records delivery-time recency for oc, rate-limited by
// config.Params.LRUInterval (spec.md §3 "Cached -> LRU-touched on
// delivery (rate-limited by lru_interval)"). A no-op if oc was never
// installed on an engine's LRU (e.g. still BUSY, or PASS).
func (c *Context) Touch(oc *objcore.ObjCore, now time.Time) {
	if oc.Engine == nil {
		return
	}
	if oc.Engine.LRU().Touch(&oc.Node, now, c.Params.LRUInterval()) {
		c.Metrics.NLRUMoved.Inc(1)
	}
}

// Rearm changes oc's deadline (spec.md §6 "rearm(oc, ttl, grace, keep)"),
// delegating to the expiry engine's mailbox-driven INSERT/MOVE/DYING
// handling.
func (c *Context) Rearm(oc *objcore.ObjCore, ttl, grace, keep time.Duration) {
	c.Expiry.Rearm(oc, ttl, grace, keep)
}
