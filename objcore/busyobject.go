package objcore

import (
	"sync"
)

// FetchState enumerates a BusyObject's lifecycle (spec.md §3 "state in
// {REQ_DONE, FETCH, FINISHED, FAILED}").
type FetchState int

const (
	ReqDone FetchState = iota
	Fetching
	Finished
	Failed
)

func (s FetchState) String() string {
	switch s {
	case ReqDone:
		return "REQ_DONE"
	case Fetching:
		return "FETCH"
	case Finished:
		return "FINISHED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CloseReason records why a fetch stopped (spec.md §3 "doclose reason").
type CloseReason int

const (
	CloseNone CloseReason = iota
	CloseAbandoned
	CloseOriginError
	CloseTimeout
)

// BusyObject is the transient state attached to an ObjHead while a fetch
// runs (spec.md §3 "BusyObject"). Deliveries that have caught up with
// everything fetched so far block on the condvar inside Wait until Extend
// or Finish/Fail is called.
type BusyObject struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state FetchState
	len   int64 // monotonically increasing committed byte count (spec.md §4.5)
	err   error
	close CloseReason

	// ObjCore is the busy ObjCore this fetch is filling; the lookup that
	// makes the caller the fetcher sets it when it creates the BusyObject.
	ObjCore *ObjCore
}

// NewBusyObject returns a BusyObject in REQ_DONE state.
func NewBusyObject() *BusyObject {
	bo := &BusyObject{state: ReqDone}
	bo.cond = sync.NewCond(&bo.mu)
	return bo
}

// State returns the current fetch state.
func (bo *BusyObject) State() FetchState {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.state
}

// SetState sets the fetch state to s and wakes every waiter; the fetcher
// calls it with Fetching once it starts reading from the origin.
func (bo *BusyObject) SetState(s FetchState) {
	bo.mu.Lock()
	bo.state = s
	bo.cond.Broadcast()
	bo.mu.Unlock()
}

// Len returns the number of bytes committed so far. Per spec.md §5(c),
// once a reader observes Len() == L it may safely read bytes [0, L)
// without further locking until its next observation.
func (bo *BusyObject) Len() int64 {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.len
}

// Extend grows the committed length by n and wakes any deliveries blocked
// in Wait (spec.md §4.5 "extend(n) takes the mutex, grows len by n,
// broadcasts.").
func (bo *BusyObject) Extend(n int64) {
	if n < 0 {
		panic("objcore: negative extend")
	}
	bo.mu.Lock()
	bo.len += n
	bo.cond.Broadcast()
	bo.mu.Unlock()
}

// Finish marks the fetch complete and wakes every waiter.
func (bo *BusyObject) Finish() {
	bo.mu.Lock()
	bo.state = Finished
	bo.cond.Broadcast()
	bo.mu.Unlock()
}

// Fail marks the fetch failed with err (the first error wins, matching
// spec.md §4.5 "On ERROR the first error is recorded") and wakes every
// waiter.
func (bo *BusyObject) Fail(err error, reason CloseReason) {
	bo.mu.Lock()
	if bo.state != Failed {
		bo.err = err
		bo.close = reason
		bo.state = Failed
	}
	bo.cond.Broadcast()
	bo.mu.Unlock()
}

// Err returns the recorded fetch error, if any.
func (bo *BusyObject) Err() error {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.err
}

// CloseReason returns why the fetch stopped, if it has.
func (bo *BusyObject) CloseReason() CloseReason {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.close
}

// WaitResult is returned by Wait to tell a delivery what to do next.
type WaitResult int

const (
	WaitHaveData WaitResult = iota
	WaitDone
	WaitError
)

// Wait blocks until either more bytes are committed past have, or the
// fetch reaches a terminal state (spec.md §4.5 "Streaming visibility"):
// returns immediately if state == FINISHED, returns WaitError if state ==
// FAILED, otherwise condwaits for Extend/Finish/Fail to broadcast.
func (bo *BusyObject) Wait(have int64) WaitResult {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	for {
		if bo.len > have {
			return WaitHaveData
		}
		switch bo.state {
		case Finished:
			return WaitDone
		case Failed:
			return WaitError
		}
		bo.cond.Wait()
	}
}
