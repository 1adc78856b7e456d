package corecache

import (
	"net/http"

	"github.com/coreproxy/cachecore/objcore"
	"github.com/coreproxy/cachecore/policy"
	"github.com/coreproxy/cachecore/storage"
)

// BerespCacheable evaluates a backend response against RFC 7234-derived
// policy (spec.md §6 "beresp_cacheable(headers, hints) -> Decision"),
// using config.Params as the fallback ttl/grace/keep when the response
// itself leaves them unset.
func (c *Context) BerespCacheable(status int, headers http.Header) policy.Decision {
	return policy.Evaluate(status, headers, c.Clock.Now(), policy.Defaults{
		TTL:   c.Params.DefaultTTL(),
		Grace: c.Params.DefaultGrace(),
		Keep:  c.Params.DefaultKeep(),
	})
}

// PickEngine chooses the storage engine a fetch should land its body in.
// An object whose entire lifetime (ttl+grace+keep) falls under
// config.Params.Shortlived is steered to the transient engine regardless
// of the requested store token, the way the original avoids paying a
// durable-store write for objects that will expire almost immediately;
// otherwise the caller's requested store is honored, falling back to
// transient if that store was never registered.
func (c *Context) PickEngine(requestedStore string, decision policy.Decision) storage.Engine {
	total := decision.TTL + decision.Grace + decision.Keep
	if total < c.Params.Shortlived() {
		if t := c.Storage.Transient(); t != nil {
			return t
		}
	}
	if e := c.Storage.Lookup(requestedStore); e != nil {
		return e
	}
	return c.Storage.Transient()
}

// NukeFuncFor adapts an engine's LRU into the storage.NukeFunc a
// storage.Nuker drives when Alloc reports ErrOutOfSpace (spec.md §4.4
// "Nuke-one").
func (c *Context) NukeFuncFor(engine storage.Engine) storage.NukeFunc {
	return func() int { return c.Expiry.NukeOne(engine.LRU()) }
}

// CompleteFetch runs the insert contract for a fetch that finished
// successfully (spec.md §4.3 "Insert contract"): a cacheable decision
// installs obj on oc, hands oc to the expiry engine, and wakes the
// waiting list; an uncacheable one detaches oc immediately and frees its
// object, relying on the hash table's front door to remember the digest
// as a short-lived negative result (spec.md §4.5's hit-for-miss/pass
// handling).
func (c *Context) CompleteFetch(head *objcore.ObjHead, oc *objcore.ObjCore, obj *objcore.Object, req *Request, status int, decision policy.Decision, engine storage.Engine) {
	if !decision.Cacheable {
		c.Table.Complete(head, oc, false)
		c.derefCore(oc)
		obj.Free()
		return
	}

	obj.URL = req.URL
	obj.Status = status
	oc.Object = obj
	oc.Engine = engine
	oc.TOrigin = c.Clock.Now()
	oc.TTL, oc.Grace, oc.Keep = decision.TTL, decision.Grace, decision.Keep

	c.Metrics.NObject.Inc(1)
	c.Table.Complete(head, oc, true)
	c.Expiry.Insert(oc)
}

// AbandonFetch runs the abandon contract for a fetch that failed before
// producing a usable response (spec.md §4.3 "Abandon contract"): oc is
// detached and dying, every parked waiter is woken to retry or fail, and
// the fetcher's own reference to oc is dropped.
func (c *Context) AbandonFetch(head *objcore.ObjHead, oc *objcore.ObjCore) {
	c.Table.Abandon(head, oc)
	c.derefCore(oc)
}
