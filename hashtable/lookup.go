package hashtable

import (
	"time"

	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/log"
	"github.com/coreproxy/cachecore/metrics"
	"github.com/coreproxy/cachecore/objcore"
)

// Outcome is what a Lookup call resolved to.
type Outcome int

const (
	// Hit means Result.OC is a fresh-enough candidate ready to deliver,
	// possibly one being served out of grace or needing a background
	// conditional revalidation per NeedsRevalidate/NeedsConditional.
	Hit Outcome = iota
	// Miss means no usable candidate existed and no fetch was already
	// running: the caller is now the fetcher and owns Result.Busy.
	Miss
	// Busy means a fetch was already running for this digest and the
	// caller parked and was woken; it should retry the whole lookup.
	Busy
)

// Hints adjusts how a single Lookup call behaves.
type Hints struct {
	// IgnoreBusy skips coalescing entirely: a busy candidate is treated
	// as absent rather than as something to wait on. Used by requests
	// that must not block behind someone else's fetch (hash_ignore_busy).
	IgnoreBusy bool
	// CanRevalidate reports whether the caller is able to issue a
	// conditional request (has a validator to send), making a keep-window
	// candidate usable as a revalidation base rather than a plain miss.
	CanRevalidate bool
	// AlwaysMiss forces a Miss even when a busy fetch is already running
	// on this head (hash_always_miss, spec.md §4.3 step 4): the caller
	// becomes its own fetcher rather than parking behind the existing
	// one.
	AlwaysMiss bool
	// Deadline bounds how long a parked waiter blocks before giving up;
	// zero means wait indefinitely.
	Deadline time.Time
	// MaxRedo bounds how many times Lookup re-walks the candidate list
	// after being woken from the waiting list, guarding against a
	// pathological wake/park cycle. Zero selects a sane default.
	MaxRedo int
}

// VaryMatch reports whether a candidate's stored Vary selector matches the
// current request's header values.
type VaryMatch func(oc *objcore.ObjCore) bool

// BanFields builds the flat attribute map a candidate should be tested
// against for pending bans (req.url, obj.status, obj.http.*, ...).
type BanFields func(oc *objcore.ObjCore) ban.Fields

// Result is what Lookup returns.
type Result struct {
	Outcome Outcome
	Head    *objcore.ObjHead // always set, with a reference the caller must Release

	OC               *objcore.ObjCore // set on Hit, or the new busy core on Miss
	Busy             *objcore.BusyObject
	NeedsRevalidate  bool // serving from grace; a background revalidation should run
	NeedsConditional bool // serving from the keep window via a conditional fetch
}

const defaultMaxRedo = 8

// Table ties the digest index, the ban list, and waiting-list coalescing
// together behind the single Lookup entry point every request goes
// through.
type Table struct {
	index  *Index
	bans   *ban.List
	front  *frontDoor
	wake   *wakePool
	clock  common.Clock
	m      *metrics.Core
	logger log.Logger
}

// NewTable wires a Table against the given ban list and metrics core.
// wakeWorkers bounds the goroutine pool used to fan out waiting-list
// wakeups after a fetch completes or fails.
func NewTable(bans *ban.List, clock common.Clock, m *metrics.Core, wakeWorkers int) (*Table, error) {
	wp, err := newWakePool(wakeWorkers)
	if err != nil {
		return nil, err
	}
	return &Table{
		index:  NewIndex(),
		bans:   bans,
		front:  newFrontDoor(8192, 2*time.Second),
		wake:   wp,
		clock:  clock,
		m:      m,
		logger: log.New("component", "hashtable"),
	}, nil
}

// Close releases the wakeup pool's goroutines.
func (t *Table) Close() {
	t.wake.Release()
}

// Lookup resolves digest to a usable candidate, a new fetch for the caller
// to drive, or parks the caller behind someone else's fetch and retries
// once woken. It always returns with Result.Head referenced; the caller
// must call t.Release(result.Head) once done with the outcome.
func (t *Table) Lookup(digest common.Digest, vary VaryMatch, fields BanFields, hints Hints) (*Result, error) {
	maxRedo := hints.MaxRedo
	if maxRedo <= 0 {
		maxRedo = defaultMaxRedo
	}

	for attempt := 0; attempt < maxRedo; attempt++ {
		res, waiter, err := t.tryOnce(digest, vary, fields, hints)
		if err != nil {
			return nil, err
		}
		if waiter == nil {
			return res, nil
		}
		reason := waiter.Wait(hints.Deadline)
		if reason == objcore.WakeTimeout {
			return &Result{Outcome: Busy, Head: res.Head}, nil
		}
		t.Release(res.Head)
		// redo lookup from scratch: the busy fetch that held us up has
		// finished or failed.
	}
	return nil, errLookupLivelock
}

var errLookupLivelock = errLookup("hashtable: lookup exceeded its redo budget without resolving")

type errLookup string

func (e errLookup) Error() string { return string(e) }

// tryOnce performs one walk of the candidate list under the ObjHead lock.
// It returns either a resolved Result, or a Result plus a Waiter the
// caller should block on before retrying.
func (t *Table) tryOnce(digest common.Digest, vary VaryMatch, fields BanFields, hints Hints) (*Result, *objcore.Waiter, error) {
	head, created := t.index.FindOrInsert(digest)
	if created && t.m != nil {
		t.m.NObjectHead.Inc(1)
	}
	head.Lock()

	now := t.clock.Now()

	// A digest just decided uncacheable stays that way for a few seconds;
	// skip the candidate walk entirely and go straight to the busy/miss
	// handling below.
	skipWalk := t.front.isKnownUncacheable(digest)
	cores := head.Cores()

	// grace is only servable while a fresh fetch is already running on
	// this head (spec.md §4.3 step 3); hint.IgnoreBusy treats any busy
	// fetch as absent, so it disables grace too.
	busyRunning := head.Busy() != nil
	graceAllowed := busyRunning && !hints.IgnoreBusy

	for i := 0; !skipWalk && i < len(cores); i++ {
		oc := cores[i]
		if oc.Is(objcore.Dying) {
			continue
		}
		if oc.Is(objcore.Busy) {
			// Keep walking: an older, grace- or keep-eligible variant
			// may still be usable (spec.md §4.3 step 3 "remember it as
			// the pending-busy candidate and continue").
			continue
		}
		if !vary(oc) {
			continue
		}

		f := fields(oc)
		matched, newRef, err := t.bans.Evaluate(oc.BanSeq, f)
		if err != nil {
			head.Unlock()
			return nil, nil, err
		}
		if matched {
			oc.SetFlags(objcore.Dying)
			head.RemoveCore(oc)
			if t.m != nil {
				t.m.NBan.Inc(1)
			}
			continue
		}
		oc.BanSeq = newRef

		switch {
		case now.Before(oc.FreshUntil()):
			oc.Ref()
			head.Unlock()
			return &Result{Outcome: Hit, Head: head, OC: oc}, nil, nil
		case graceAllowed && now.Before(oc.GraceUntil()):
			oc.Ref()
			head.Unlock()
			return &Result{Outcome: Hit, Head: head, OC: oc, NeedsRevalidate: true}, nil, nil
		case hints.CanRevalidate && now.Before(oc.Deadline()):
			oc.Ref()
			head.Unlock()
			return &Result{Outcome: Hit, Head: head, OC: oc, NeedsRevalidate: true, NeedsConditional: true}, nil, nil
		default:
			// past the keep window: not usable, keep scanning older
			// variants in case one is still fresh.
			continue
		}
	}

	if graceAllowed && !hints.AlwaysMiss {
		w := head.WaitingListOrCreate().Park()
		head.Unlock()
		return &Result{Outcome: Busy, Head: head}, w, nil
	}

	oc := objcore.NewObjCore()
	oc.SetFlags(objcore.Busy)
	oc.BanSeq = t.bans.Head()
	bo := objcore.NewBusyObject()
	bo.ObjCore = oc

	if busyRunning {
		// Either hint.IgnoreBusy or hint.AlwaysMiss let this request
		// become its own fetcher despite an existing fetch (spec.md
		// §4.3 step 4). The ObjHead invariant allows only one installed
		// BusyObject at a time, so this one rides along as a Private
		// core: it is not added to head.cores and not installed via
		// head.SetBusy, leaving the existing fetch as the sole owner of
		// that slot. Complete/Abandon only clear head's busy pointer
		// when it still points at the core being completed, so this
		// private fetch finishing first cannot clobber the other one's
		// slot.
		oc.SetFlags(objcore.Private)
		head.Unlock()
		if t.m != nil {
			t.m.NObjectCore.Inc(1)
		}
		return &Result{Outcome: Miss, Head: head, OC: oc, Busy: bo}, nil, nil
	}

	head.AddCore(oc)
	head.SetBusy(bo)
	head.Unlock()
	t.front.forget(digest)
	if t.m != nil {
		t.m.NObjectCore.Inc(1)
	}
	return &Result{Outcome: Miss, Head: head, OC: oc, Busy: bo}, nil, nil
}

// Release gives back the reference Lookup took on head, removing it from
// the index if it has become empty.
func (t *Table) Release(head *objcore.ObjHead) {
	if t.index.Release(head) && t.m != nil {
		t.m.NObjectHead.Dec(1)
	}
}
