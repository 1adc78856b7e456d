package ban

import (
	"context"
	"sync"
	"time"

	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/log"
	"github.com/coreproxy/cachecore/objcore"
	"golang.org/x/time/rate"
)

// Candidate is what the lurker needs from one live ObjCore to test it
// against aged bans: the ObjCore itself, its current reference-ban sequence,
// and the Fields the bans are tested against.
type Candidate struct {
	OC      *objcore.ObjCore
	RefSeq  uint64
	Fields  Fields
}

// Source supplies the lurker with a snapshot of live candidates each
// sweep; wired by corecache to the hash table's full ObjCore inventory.
type Source func() []Candidate

// MarkDying is invoked for every candidate the lurker finds a match for.
type MarkDying func(c Candidate)

// AdvanceRef is invoked for every candidate the lurker clears to the
// current head, so a future lurker sweep (and future lookups) skip the
// work (spec.md §4.6 "successful evaluations allow bans ... to be
// garbage-collected").
type AdvanceRef func(c Candidate, newRef uint64)

// Lurker is the background thread of spec.md §4.6: "A background thread
// periodically walks aged bans ... and visits objects that still hold
// older ban references". Pacing uses golang.org/x/time/rate the way a
// background maintenance loop throttles itself against a shared budget
// rather than a raw time.Sleep. The limiter is built once in NewLurker from
// ban_lurker_sleep/ban_lurker_batch; later changes to those parameters do
// not reach a running Lurker.
type Lurker struct {
	list    *List
	source  Source
	markDie MarkDying
	advance AdvanceRef
	clock   common.Clock
	logger  log.Logger

	age   time.Duration
	batch int
	lim   *rate.Limiter

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewLurker constructs a Lurker. age/batch/sleep mirror config.Params's
// ban_lurker_age/ban_lurker_batch/ban_lurker_sleep.
func NewLurker(list *List, source Source, markDie MarkDying, advance AdvanceRef, clock common.Clock, age time.Duration, batch int, sleep time.Duration) *Lurker {
	if sleep <= 0 {
		sleep = time.Millisecond
	}
	if batch <= 0 {
		batch = 1
	}
	rl := rate.NewLimiter(rate.Every(sleep), batch)
	return &Lurker{
		list:    list,
		source:  source,
		markDie: markDie,
		advance: advance,
		clock:   clock,
		logger:  log.New("component", "ban_lurker"),
		age:     age,
		batch:   batch,
		lim:     rl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the lurker goroutine. Safe to call at most once.
func (l *Lurker) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()
	go l.run()
}

// Stop signals the lurker to exit and waits for it.
func (l *Lurker) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Lurker) run() {
	defer close(l.done)
	interval := time.Second
	if q := l.age / 4; q > 0 {
		interval = q
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep visits every candidate whose reference-ban is older than the
// youngest "aged" ban (one older than ban_lurker_age), testing it against
// the bans it hasn't seen yet.
func (l *Lurker) sweep() {
	agedHead := l.agedHead()
	if agedHead == 0 {
		return
	}

	candidates := l.source()
	ctx := context.Background()
	processed := 0
	for _, c := range candidates {
		if c.RefSeq >= agedHead {
			continue // already evaluated against every aged ban
		}
		if err := l.lim.Wait(ctx); err != nil {
			return
		}
		matched, newRef, err := l.list.Evaluate(c.RefSeq, c.Fields)
		if err != nil {
			l.logger.Warn("lurker evaluate failed", "err", err)
			continue
		}
		if matched {
			l.markDie(c)
		} else {
			l.advance(c, newRef)
		}
		processed++
		if processed >= l.batch {
			break
		}
	}
}

// agedHead returns the sequence number of the newest ban that is at least
// ban_lurker_age old (0 if there is none), i.e. the boundary up to which
// every ban has been aged long enough to amortize its evaluation in the
// background (spec.md §4.6 "periodically walks aged bans (older than
// ban_lurker_age)").
func (l *Lurker) agedHead() uint64 {
	cutoff := l.clock.Now().Add(-l.age)
	l.list.mu.Lock()
	defer l.list.mu.Unlock()
	head := uint64(0)
	for _, b := range l.list.bans {
		if b.Time.After(cutoff) {
			break
		}
		head = b.Seq
	}
	return head
}
