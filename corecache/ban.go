package corecache

import (
	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/objcore"
	"github.com/coreproxy/cachecore/storage"
)

// BanAdd appends a new ban (spec.md §6 "ban_add(predicates)"). Its
// returned Seq is the reference-ban value future ObjCore insertions will
// record; nothing currently cached is touched synchronously — matching
// entries are found lazily, either the next time they are looked up or by
// the background lurker.
func (c *Context) BanAdd(raw string, preds []ban.Predicate) (*ban.Ban, error) {
	return c.Bans.Add(c.Clock.Now(), raw, preds)
}

// NukeOne evicts one ObjCore from the head of engine's LRU to satisfy
// space pressure (spec.md §6 "nuke_one(lru) -> int").
func (c *Context) NukeOne(engine storage.Engine) int {
	return c.Expiry.NukeOne(engine.LRU())
}

// banCandidates supplies the ban lurker with a snapshot of every live,
// non-busy ObjCore currently indexed (spec.md §4.6 "visits objects that
// still hold older ban references").
func (c *Context) banCandidates() []ban.Candidate {
	heads := c.Table.AllHeads()
	var out []ban.Candidate
	for _, h := range heads {
		h.Lock()
		for _, oc := range h.Cores() {
			if oc.Is(objcore.Dying) || oc.Is(objcore.Busy) {
				continue
			}
			out = append(out, ban.Candidate{OC: oc, RefSeq: oc.BanSeq, Fields: banFieldsForObject(oc)})
		}
		h.Unlock()
	}
	return out
}

// banMarkDying retires a candidate the lurker found a match for, routing
// through the expiry engine's mailbox rather than touching the heap or
// the ObjHead directly (spec.md §4.4's mailbox rule: "External threads
// never touch the heap directly").
func (c *Context) banMarkDying(cand ban.Candidate) {
	c.Metrics.NBan.Inc(1)
	c.Expiry.Dying(cand.OC)
}

// banAdvanceRef records that a candidate survived every ban the lurker
// just tested it against, so future sweeps and lookups skip that work
// (spec.md §4.6 "advance the ObjCore's reference-ban pointer to the
// current head"). Guarded by the ObjHead lock, matching how the lookup
// path itself updates BanSeq.
func (c *Context) banAdvanceRef(cand ban.Candidate, newRef uint64) {
	head := cand.OC.Head()
	if head == nil {
		return
	}
	head.Lock()
	cand.OC.BanSeq = newRef
	head.Unlock()
}
