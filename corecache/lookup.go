package corecache

import (
	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/hashtable"
	"github.com/coreproxy/cachecore/objcore"
)

// Lookup resolves req to a usable candidate, a new fetch for the caller to
// drive, or a parked wait that has already been woken by the time it
// returns (spec.md §6 "lookup(digest, ignore_busy, always_miss) ->
// Hit(oc) | Miss(oc_busy) | Busy(parked)"). The returned Result.Head
// carries a reference the caller must release via ReleaseHead.
func (c *Context) Lookup(req *Request, hints hashtable.Hints) (*hashtable.Result, error) {
	digest := req.Digest()

	vary := func(oc *objcore.ObjCore) bool {
		if oc.Object == nil || oc.Object.VaryKey.Empty() {
			return true
		}
		return oc.Object.VaryKey.Match(req.header)
	}
	fields := func(oc *objcore.ObjCore) ban.Fields { return banFields(req, oc) }

	return c.Table.Lookup(digest, vary, fields, hints)
}

// ReleaseHead gives back the reference a Lookup call took on head.
func (c *Context) ReleaseHead(head *objcore.ObjHead) {
	c.Table.Release(head)
}
