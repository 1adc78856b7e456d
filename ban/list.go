package ban

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/coreproxy/cachecore/metrics"
	"github.com/holiman/bloomfilter/v2"
)

// Ban is one entry in the append-only, newest-to-oldest list (spec.md §3
// "Ban"). Seq is this ban's position, used as the value every ObjCore
// records as its "reference-ban" at insertion time.
type Ban struct {
	Seq       uint64
	Time      time.Time
	Raw       string
	compiled  *compiled
	completed bool // true once superseded by a newer identical ban (ban_dups)

	urlOnly  bool
	url      string
	hasURLEq bool // true if any conjunct is a req.url == literal test
}

// List is the process-wide ban list (spec.md §4.6 "Structure"). Bans are
// appended at the head (seq increases monotonically); GC reclaims entries
// at the tail once no live ObjCore references them or an older duplicate.
type List struct {
	mu      sync.Mutex
	bans    []*Ban // index 0 = oldest, last = newest
	nextSeq uint64
	bloom   *bloomfilter.Filter
	banDups bool
	m       *metrics.Core
}

// New returns an empty ban list. banDups mirrors config.Params.BanDups:
// when true, a newly added ban marks older syntactically-identical bans
// as completed so GC can reap them (spec.md §4.6 "Duplication").
func New(banDups bool, m *metrics.Core) *List {
	f, err := bloomfilter.NewOptimal(10000, 0.01)
	if err != nil {
		// NewOptimal only fails for nonsensical parameters; the constants
		// above are always valid.
		panic(fmt.Sprintf("ban: bloom filter init: %v", err))
	}
	return &List{bloom: f, banDups: banDups, m: m}
}

// Add compiles and appends a new ban, returning it. Its Seq becomes the
// reference-ban value new ObjCores should record from this point on.
func (l *List) Add(now time.Time, raw string, preds []Predicate) (*Ban, error) {
	c, err := compilePredicates(preds)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	b := &Ban{Seq: l.nextSeq, Time: now, Raw: raw, compiled: c}
	if len(preds) == 1 && preds[0].Op == OpEqual && preds[0].Field == "req.url" {
		b.urlOnly = true
		b.url = preds[0].Operand
	}
	// Every req.url == literal conjunct, not just single-predicate bans,
	// registers its operand in the bloom filter: a ban that ANDs a
	// req.url equality with other conditions still cannot match unless
	// fields["req.url"] is one of those literals, so membership in this
	// filter is a valid (if conservative) precondition for any such ban.
	for _, p := range preds {
		if p.Op == OpEqual && p.Field == "req.url" {
			b.hasURLEq = true
			l.bloom.Add(hashString(p.Operand))
		}
	}

	if l.banDups {
		for _, old := range l.bans {
			if !old.completed && old.Raw == raw {
				old.completed = true
			}
		}
	}

	l.bans = append(l.bans, b)
	return b, nil
}

// Head returns the current tail sequence number (the list head, in
// spec.md's newest-first description): the reference-ban value a brand
// new ObjCore should record (spec.md §3 "Each ObjCore stores a reference
// to the ban that was the list head at insertion time").
func (l *List) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// Evaluate walks every ban newer than refSeq (exclusive) down to the
// current head, testing fields against each (spec.md §4.6 "Evaluation").
// It returns matched=true on the first match (the ObjCore should be
// marked DYING) and the new reference-ban sequence to record otherwise
// (the current head, since the walk completed with no match and future
// lookups need not repeat this work).
func (l *List) Evaluate(refSeq uint64, fields Fields) (matched bool, newRef uint64, err error) {
	l.mu.Lock()
	bans := append([]*Ban(nil), l.bans...)
	l.mu.Unlock()

	// bans may have had older entries reaped by GC, so Seq no longer maps
	// directly to a slice index: find the first entry newer than refSeq.
	start := sort.Search(len(bans), func(i int) bool { return bans[i].Seq > refSeq })

	for i := start; i < len(bans); i++ {
		b := bans[i]
		if b.completed {
			continue
		}
		if b.urlOnly {
			if fields["req.url"] != b.url {
				continue
			}
			return true, 0, nil
		}
		if b.hasURLEq && !l.bloom.Contains(hashString(fields["req.url"])) {
			// This ban requires an exact req.url match as one of its
			// conjuncts; the bloom filter has no false negatives, so a
			// miss here means match() would necessarily fail too.
			continue
		}
		ok, err := b.compiled.match(fields)
		if err != nil {
			return false, 0, err
		}
		if ok {
			return true, 0, nil
		}
	}
	if len(bans) == 0 {
		return false, refSeq, nil
	}
	return false, bans[len(bans)-1].Seq, nil
}

// GC reaps bans at the tail of the list that are both no longer referenced
// and completed, per spec.md §4.6 "Successful evaluations allow bans at the
// tail of the list to be garbage-collected when no ObjCore references
// them." minRef is the minimum reference-ban sequence across every live
// ObjCore; a ban is dropped only if it is at or below minRef and marked
// completed. Only Add under ban_dups marks bans completed, so the first
// tail ban that was never superseded stops the reaping whatever minRef is.
func (l *List) GC(minRef uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	reaped := 0
	for len(l.bans) > 0 {
		b := l.bans[0]
		if b.Seq > minRef || !b.completed {
			break
		}
		l.bans = l.bans[1:]
		reaped++
	}
	return reaped
}

// Len reports the number of live (non-reaped) bans.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bans)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
