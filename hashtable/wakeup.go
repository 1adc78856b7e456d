package hashtable

import (
	"github.com/coreproxy/cachecore/objcore"
	"github.com/panjf2000/ants/v2"
)

// wakePool fans out waiting-list wakeups across a bounded goroutine pool
// instead of spawning one goroutine per completed fetch. A busy cache with
// many concurrently coalesced requests can finish several fetches at once;
// without a bound, each completion spawning its own goroutine to re-lock
// the ObjHead and walk its waiting list would let the goroutine count grow
// with request fan-in rather than with available CPU.
type wakePool struct {
	pool *ants.Pool
}

func newWakePool(size int) (*wakePool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &wakePool{pool: p}, nil
}

func (wp *wakePool) Release() {
	wp.pool.Release()
}

// dispatchWake re-locks head off the critical section that just finished
// or failed a fetch, and wakes every parked waiter with reason r. Callers
// must NOT be holding head's lock when this runs (it is always invoked
// after the lock has been released).
func (wp *wakePool) dispatchWake(head *objcore.ObjHead, r objcore.WakeReason) {
	_ = wp.pool.Submit(func() {
		head.Lock()
		wl := head.WaitingList()
		if wl != nil {
			wl.WakeAll(r)
		}
		head.Unlock()
	})
}
