package expiry

import (
	"sync"
	"time"

	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/log"
	"github.com/coreproxy/cachecore/lrulist"
	"github.com/coreproxy/cachecore/metrics"
	"github.com/coreproxy/cachecore/objcore"
)

// epochKeySpace is 2^32, the width of the heap's key space (spec.md §4.4
// "Epoch reset", §8 "Key-space epoch reset: when now - epoch_start reaches
// 2^32").
const epochKeySpace = uint64(1) << 32

// defaultExpirySleep bounds how long the thread sleeps when the heap is
// empty or its root is far in the future (spec.md §4.4 "expiry_sleep
// default").
const defaultExpirySleep = time.Second

// RemoveFunc is invoked, outside any lock the engine itself holds, exactly
// once per ObjCore the moment it transitions from live to DYING with its
// final expiry-held reference released (spec.md §3 "the expiry engine
// holds the sole active reference that distinguishes 'cached' from
// 'dying'").
type RemoveFunc func(oc *objcore.ObjCore)

// Engine owns the single min-heap and its dedicated background thread
// (spec.md §4.4). One Engine exists per core context.
type Engine struct {
	clock    common.Clock
	m        *metrics.Core
	logger   log.Logger
	onExpire RemoveFunc

	inbox *inbox
	stop  chan struct{}
	done  chan struct{}

	mu         sync.Mutex // guards heap + epochStart; only the run loop and NukeOne touch the heap
	h          *heap
	epochStart time.Time
}

// New returns an Engine ready to Start. onExpire is called whenever the
// background thread expires or evicts an ObjCore.
func New(clock common.Clock, m *metrics.Core, onExpire RemoveFunc) *Engine {
	return &Engine{
		clock:      clock,
		m:          m,
		logger:     log.New("component", "expiry"),
		onExpire:   onExpire,
		inbox:      newInbox(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		h:          newHeap(),
		epochStart: clock.Now(),
	}
}

// Start launches the background thread. Must be called at most once.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the background thread to exit and waits for it to finish.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// keyFor converts an absolute deadline into the current epoch's 32-bit key
// space, per spec.md §3 "Keys fit in 32 bits (whole seconds)".
func (e *Engine) keyFor(deadline time.Time) uint32 {
	secs := deadline.Sub(e.epochStart).Seconds()
	if secs < 0 {
		return 0
	}
	if secs > float64(epochKeySpace-1) {
		return uint32(epochKeySpace - 1)
	}
	return uint32(secs)
}

// Insert posts an INSERT mail for oc, to be heap-inserted at
// t_origin+ttl+grace+keep (spec.md §4.4 "On INSERT: heap-insert at key =
// ..."). Callers must have already removed oc from its storage engine's
// LRU and set whatever OFFLRU-equivalent bookkeeping they use; this
// engine's run loop reinserts it onto the LRU tail itself.
func (e *Engine) Insert(oc *objcore.ObjCore) {
	e.m.ExpMailed.Inc(1)
	e.inbox.Post(oc, MailInsert, 0)
}

// Move posts a MOVE mail to reorder oc to a new deadline (used by Rearm).
func (e *Engine) Move(oc *objcore.ObjCore) {
	// The run loop pushes oc back onto its LRU tail, so it comes off first,
	// as for Insert.
	if eng := oc.Engine; eng != nil {
		eng.LRU().Remove(&oc.Node)
	}
	e.m.ExpMailed.Inc(1)
	e.inbox.Post(oc, MailMove, 0)
}

// Dying posts a DYING mail: oc should be removed from the heap (if
// present) and its final reference dropped (spec.md §4.4 "On DYING:
// heap-delete if present, emit a removal event, decrement ref.").
func (e *Engine) Dying(oc *objcore.ObjCore) {
	e.m.ExpMailed.Inc(1)
	e.inbox.Post(oc, MailDying, 0)
}

// Rearm changes an ObjCore's deadline (spec.md §4.4 "Rearm"). Lengthening
// is deferred to the next natural heap consultation; shortening below now
// posts DYING; anything else posts MOVE.
func (e *Engine) Rearm(oc *objcore.ObjCore, ttl, grace, keep time.Duration) {
	oldDeadline := oc.Deadline()
	oc.TTL, oc.Grace, oc.Keep = ttl, grace, keep
	newDeadline := oc.Deadline()

	now := e.clock.Now()
	switch {
	case !newDeadline.After(oldDeadline):
		if !now.Before(newDeadline) {
			// Conservative rule for the rearm/wakeup race (spec.md §9
			// open question (b)): if the new deadline has already
			// passed by the time we'd post mail, mark DYING outright
			// rather than risk a MOVE landing after a wakeup already
			// assumed the object live.
			e.Dying(oc)
			return
		}
		e.Move(oc)
	default:
		// Lengthening only: deferred, the heap is consulted lazily on the
		// next natural sleep (spec.md §4.4 "Rearm").
	}
}

// run is the dedicated background thread (spec.md §5 "One dedicated
// expiry thread").
func (e *Engine) run() {
	defer close(e.done)
	for {
		e.drainOnce()

		e.mu.Lock()
		_, key, ok := e.h.Root()
		e.mu.Unlock()

		var timer *time.Timer
		if !ok {
			timer = time.NewTimer(defaultExpirySleep)
		} else {
			now := e.clock.Now()
			deadline := e.epochStart.Add(time.Duration(key) * time.Second)
			wait := deadline.Sub(now)
			if wait <= 0 {
				e.expireRoot()
				timer = time.NewTimer(0)
			} else if wait > defaultExpirySleep {
				timer = time.NewTimer(defaultExpirySleep)
			} else {
				timer = time.NewTimer(wait)
			}
		}

		select {
		case <-e.stop:
			timer.Stop()
			return
		case m := <-e.inbox.ch:
			timer.Stop()
			e.handle(m)
		case <-timer.C:
			e.maybeEpochReset()
			e.expireDue()
		}
	}
}

// drainOnce processes every message already queued without blocking,
// called once per loop iteration before consulting the root.
func (e *Engine) drainOnce() {
	for {
		select {
		case m := <-e.inbox.ch:
			e.handle(m)
		default:
			return
		}
	}
}

func (e *Engine) handle(m mail) {
	e.m.ExpReceived.Inc(1)
	oc := m.oc

	if m.kind != MailDying {
		if eng := oc.Engine; eng != nil {
			eng.LRU().PushTail(&oc.Node)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch m.kind {
	case MailInsert:
		key := e.keyFor(oc.Deadline())
		e.h.Insert(oc, key)
	case MailMove:
		if oc.HeapIdx >= 0 {
			e.h.Reorder(oc, e.keyFor(oc.Deadline()))
		} else {
			e.h.Insert(oc, e.keyFor(oc.Deadline()))
		}
	case MailDying:
		oc.SetFlags(objcore.Dying)
		if eng := oc.Engine; eng != nil {
			eng.LRU().Remove(&oc.Node)
		}
		if oc.HeapIdx >= 0 {
			e.h.Delete(oc)
		}
		e.removeOne(oc)
	}
}

// expireDue pops every root whose deadline has passed.
func (e *Engine) expireDue() {
	for {
		e.mu.Lock()
		oc, key, ok := e.h.Root()
		if !ok {
			e.mu.Unlock()
			return
		}
		deadline := e.epochStart.Add(time.Duration(key) * time.Second)
		if e.clock.Now().Before(deadline) {
			e.mu.Unlock()
			return
		}
		if k := e.keyFor(oc.Deadline()); k > key {
			// Lengthened by Rearm since it was keyed: re-key, do not expire.
			e.h.Reorder(oc, k)
			e.mu.Unlock()
			continue
		}
		e.h.Delete(oc)
		e.mu.Unlock()

		oc.SetFlags(objcore.Dying)
		if eng := oc.Engine; eng != nil {
			eng.LRU().Remove(&oc.Node)
		}
		e.removeOne(oc)
		e.m.NExpired.Inc(1)
	}
}

// expireRoot pops exactly the current root (used when the select loop's
// own wait computation finds it already due).
func (e *Engine) expireRoot() {
	e.expireDue()
}

func (e *Engine) removeOne(oc *objcore.ObjCore) {
	if e.onExpire != nil {
		e.onExpire(oc)
	}
}

// maybeEpochReset performs the periodic key-space renormalization (spec.md
// §4.4 "Epoch reset", §8 boundary behavior): drains every heap entry,
// expires anything already past its deadline, and re-inserts the rest
// under a freshly zeroed epoch.
func (e *Engine) maybeEpochReset() {
	now := e.clock.Now()

	e.mu.Lock()
	if now.Sub(e.epochStart) < time.Duration(epochKeySpace-1)*time.Second {
		e.mu.Unlock()
		return
	}
	entries := e.h.All()
	e.h.Clear()
	e.epochStart = now
	var survivors []entry
	for _, ent := range entries {
		deadline := ent.oc.Deadline()
		if !now.Before(deadline) {
			continue
		}
		survivors = append(survivors, ent)
	}
	for _, ent := range survivors {
		e.h.Insert(ent.oc, e.keyFor(ent.oc.Deadline()))
	}
	e.mu.Unlock()

	e.logger.Info("expiry epoch reset", "total", len(entries), "survivors", len(survivors))
	e.m.NEpochReset.Inc(1)

	for _, ent := range entries {
		found := false
		for _, s := range survivors {
			if s.oc == ent.oc {
				found = true
				break
			}
		}
		if found {
			continue
		}
		ent.oc.SetFlags(objcore.Dying)
		if eng := ent.oc.Engine; eng != nil {
			eng.LRU().Remove(&ent.oc.Node)
		}
		e.removeOne(ent.oc)
		e.m.NExpired.Inc(1)
	}
}

// HeapLen reports the current number of live heap entries, for tests and
// metrics.
func (e *Engine) HeapLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h.Len()
}

// NukeOne evicts one ObjCore from the head (oldest) of lru to satisfy
// storage pressure (spec.md §4.4 "Nuke-one"). It skips any ObjCore with a
// refcount in use or whose ObjHead cannot be trylocked, returning 1 on
// success or -1 if nothing could be evicted.
func (e *Engine) NukeOne(lru *lrulist.List) int {
	for n := lru.Head(); n != nil; n = lru.Next(n) {
		oc, ok := n.Owner.(*objcore.ObjCore)
		if !ok {
			continue
		}
		if oc.RefCount() > 1 {
			continue
		}
		head := oc.Head()
		if head == nil {
			continue
		}
		if !head.TryLock() {
			continue
		}
		oc.Ref()
		oc.SetFlags(objcore.Dying)
		lru.Remove(n)
		head.Unlock()

		e.mu.Lock()
		if oc.HeapIdx >= 0 {
			e.h.Delete(oc)
		}
		e.mu.Unlock()

		e.Dying(oc)
		e.m.NLRUNuked.Inc(1)
		return 1
	}
	return -1
}
