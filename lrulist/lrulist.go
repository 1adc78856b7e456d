// Package lrulist implements the per-store intrusive doubly-linked recency
// list from spec.md §3/§4.4: head is oldest, tail is newest, touches are
// throttled by config.Params.LRUInterval, and scans for nuke_one start from
// the head. The list is intrusive (nodes are embedded in the caller's
// struct) the way the teacher embeds list.Element-shaped fields directly
// into cache entries rather than boxing them, to avoid an allocation per
// touch on the hot delivery path.
package lrulist

import (
	"sync"
	"time"
)

// Node is embedded into any struct that wants to live on a List (in this
// module, objcore.ObjCore). A Node not currently on a list has prev == next
// == nil and list == nil.
type Node struct {
	prev, next *Node
	list       *List

	// LastTouch is the wall-clock time of the last successful Touch,
	// compared against config.Params.LRUInterval to throttle re-touches.
	LastTouch time.Time

	// Owner points back at the struct this Node is embedded in, set once
	// at construction, so a bare *Node obtained from a list scan (e.g.
	// nuke_one walking the list head-first) can recover its ObjCore
	// without an unsafe embedded-field cast.
	Owner any
}

// OnList reports whether the node is currently linked into a List.
func (n *Node) OnList() bool { return n.list != nil }

// List is one store's recency list, head = oldest, tail = newest.
type List struct {
	mu         sync.Mutex
	head, tail *Node
	length     int
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// Len reports the number of nodes currently linked.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.length
}

// PushTail links n at the tail (newest position). n must not already be on
// any list.
func (l *List) PushTail(n *Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushTailLocked(n)
}

func (l *List) pushTailLocked(n *Node) {
	if n.list != nil {
		panic("lrulist: node already linked")
	}
	n.list = l
	n.prev = l.tail
	n.next = nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.length++
}

// Remove unlinks n from whatever list it is on. A no-op if n is not linked.
func (l *List) Remove(n *Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(n)
}

func (l *List) removeLocked(n *Node) {
	if n.list == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next, n.list = nil, nil, nil
	l.length--
}

// Head returns the oldest node, or nil if the list is empty. Used by
// nuke_one to scan from the head (spec.md §4.4).
func (l *List) Head() *Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Next returns the node following n in head-to-tail order, under the
// list's lock, so a nuke_one scan can walk without racing a concurrent
// Remove. Returns nil past the tail.
func (l *List) Next(n *Node) *Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return n.next
}

// Touch moves n to the tail if (now - n.LastTouch) >= interval, recording
// the new LastTouch. It reports whether the move happened. Per spec.md
// §4.4 "Touch policy", a caller that cannot make progress (e.g. a failed
// trylock further up the stack) simply skips the call; this leaves the
// list mildly out of order, which is acceptable.
func (l *List) Touch(n *Node, now time.Time, interval time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.list == l && now.Sub(n.LastTouch) < interval {
		return false
	}
	if n.list == l {
		l.removeLocked(n)
	}
	n.LastTouch = now
	l.pushTailLocked(n)
	return true
}

// TryLock attempts to acquire the list's mutex without blocking, returning
// the unlock function on success. No caller in this module uses it:
// nuke_one walks the list with Head/Next and trylocks the ObjHead instead.
func (l *List) TryLock() (unlock func(), ok bool) {
	if !l.mu.TryLock() {
		return nil, false
	}
	return l.mu.Unlock, true
}
