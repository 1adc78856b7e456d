package objcore

import "sync/atomic"

// Flags is the bit-packed state word every ObjCore carries (spec.md §3
// "flag word with BUSY, PASS, PRIVATE, HFM, CANCEL, DYING"). DYING is
// monotonic: once set it is never cleared.
type Flags uint32

const (
	Busy Flags = 1 << iota
	Pass
	Private
	HitForMiss
	Cancel
	Dying
)

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{Busy, "BUSY"}, {Pass, "PASS"}, {Private, "PRIVATE"},
		{HitForMiss, "HFM"}, {Cancel, "CANCEL"}, {Dying, "DYING"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// flagWord is an atomic Flags with the DYING-is-monotonic invariant
// enforced at the CAS level, mirroring the teacher's atomic.CompareAndSwap
// close-once idiom used for shutdown flags.
type flagWord struct {
	v atomic.Uint32
}

func (w *flagWord) load() Flags {
	return Flags(w.v.Load())
}

func (w *flagWord) has(f Flags) bool {
	return w.load()&f != 0
}

// set ORs in bits, looping a CAS until it wins; once DYING is set, any
// further set/clear of DYING is a harmless no-op (still monotonic).
func (w *flagWord) set(f Flags) Flags {
	for {
		old := w.v.Load()
		next := old | uint32(f)
		if w.v.CompareAndSwap(old, next) {
			return Flags(next)
		}
	}
}

// clear ANDs out bits, except DYING which can never be cleared once set.
func (w *flagWord) clear(f Flags) Flags {
	f &^= Dying
	for {
		old := w.v.Load()
		next := old &^ uint32(f)
		if w.v.CompareAndSwap(old, next) {
			return Flags(next)
		}
	}
}
