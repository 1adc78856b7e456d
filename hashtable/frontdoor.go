package hashtable

import (
	"time"

	"github.com/coreproxy/cachecore/common"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// frontDoor is a short-lived negative-result cache: digests that were just
// decided uncacheable (hit-for-miss or pass) are remembered for a few
// seconds so a burst of identical requests doesn't re-walk a candidate
// list that is going to come up empty every time anyway. It never holds
// onto an ObjCore itself, just the fact that one isn't worth looking for.
type frontDoor struct {
	cache *lru.LRU[[4]uint64, struct{}]
}

func newFrontDoor(size int, ttl time.Duration) *frontDoor {
	return &frontDoor{cache: lru.NewLRU[[4]uint64, struct{}](size, nil, ttl)}
}

func (f *frontDoor) markUncacheable(d common.Digest) {
	f.cache.Add(d.Key(), struct{}{})
}

func (f *frontDoor) isKnownUncacheable(d common.Digest) bool {
	_, ok := f.cache.Get(d.Key())
	return ok
}

func (f *frontDoor) forget(d common.Digest) {
	f.cache.Remove(d.Key())
}
