package expiry

import (
	"github.com/coreproxy/cachecore/objcore"
)

// MailKind tags an inbox message with the operation the expiry thread
// should perform once it drains it (spec.md §4.4 "Mailbox").
type MailKind int

const (
	MailInsert MailKind = iota
	MailMove
	MailDying
)

type mail struct {
	oc   *objcore.ObjCore
	kind MailKind
	key  uint32
}

// inbox is the channel external threads post to instead of touching the
// heap directly (spec.md §4.4 "External threads never touch the heap
// directly. They post an ObjCore to the expiry inbox..."), mirroring the
// teacher's own mainLoop-over-channels idiom rather than a locked slice:
// the expiry thread's select loop (engine.go) drains it alongside a sleep
// timer with no risk of a missed wakeup, which a condvar-based FIFO would
// need extra care to guarantee.
type inbox struct {
	ch chan mail
}

// inboxCapacity bounds how many pending mail messages may be buffered
// before Post blocks; sized generously since the expiry thread drains in a
// tight loop and Post is never meant to apply backpressure under normal
// load.
const inboxCapacity = 4096

func newInbox() *inbox {
	return &inbox{ch: make(chan mail, inboxCapacity)}
}

// Post enqueues a message for the expiry thread.
func (ib *inbox) Post(oc *objcore.ObjCore, kind MailKind, key uint32) {
	ib.ch <- mail{oc: oc, kind: kind, key: key}
}
