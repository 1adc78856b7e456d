package storage

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	"github.com/holiman/billy"
)

// pageSize is the file engine's allocation granularity (spec.md §4.2 "the
// backing file is carved into page_size-aligned segments").
const pageSize = 4096

// numBuckets is the free-list bucket count: 32 exact-size buckets plus one
// "32 or larger" overflow bucket (spec.md §4.2 "33 free buckets indexed by
// size/page_size capped at 32").
const numBuckets = 33

// FileEngine is the file-backed variant of spec.md §4.2. The durable slot
// storage is delegated to holiman/billy, a shelf/slot on-disk blob store
// that already buckets allocations by size class; this engine layers
// page_size-aligned, 33-bucket free-list accounting on top (Alloc searches
// the buckets and splits a larger run; Free and Trim add runs back) while
// billy supplies the actual slot persistence and reuse. Freed runs are not
// coalesced with adjacent free runs. An advisory flock on the backing
// store's lockfile prevents two core instances from opening the same
// backing store concurrently.
type FileEngine struct {
	baseEngine

	path string
	db   billy.Database
	lock *flock.Flock

	fmu     sync.Mutex
	buckets [numBuckets][]*freeRun // free runs, bucketed by page count capped at 32
}

// freeRun is one contiguous run of free pages, tracked only for bucket
// accounting; the actual bytes live in billy slots referenced by handle.
type freeRun struct {
	pages int
}

// NewFileEngine opens (creating if absent) a file-backed store rooted at
// dir. sizeBytes is accepted but not enforced: Alloc never checks it.
// granularity, when positive, sets the size classes of the billy shelves;
// Alloc, Free and Trim still round to pageSize (spec.md §6
// "file,/path,SIZE[,granularity]").
func NewFileEngine(name, dir string, sizeBytes int64, granularity int) (*FileEngine, error) {
	gran := pageSize
	if granularity > 0 {
		gran = granularity
	}
	lock := flock.New(dir + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("storage: flock %s: %w", dir+".lock", err)
	}
	if !locked {
		return nil, fmt.Errorf("storage: backing store %s is already locked by another process", dir)
	}

	db, err := billy.Open(billy.Options{Path: dir, Repair: true}, newShelfSizes(gran), nil)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("storage: open billy store at %s: %w", dir, err)
	}

	e := &FileEngine{
		baseEngine: newBaseEngine(name),
		path:       dir,
		db:         db,
		lock:       lock,
	}
	_ = sizeBytes // not enforced; g_space only reports what is allocated
	_ = gran
	return e, nil
}

// newShelfSizes builds billy's shelf size classes from the page granularity,
// one shelf per free-list bucket so a billy Put lands in the same size
// class our own bucket search would choose.
func newShelfSizes(granularity int) billy.ShelfSizeFn {
	return func(size uint32) uint32 {
		pages := (int(size) + granularity - 1) / granularity
		if pages > numBuckets-1 {
			pages = numBuckets - 1
		}
		if pages < 1 {
			pages = 1
		}
		return uint32(pages * granularity)
	}
}

func (e *FileEngine) Open() error { return nil }

func (e *FileEngine) Close() error {
	err := e.db.Close()
	e.lock.Unlock()
	return err
}

// bucketFor returns the bucket index for a run of n pages, capped at
// numBuckets-1 ("32 or larger").
func bucketFor(pages int) int {
	if pages >= numBuckets-1 {
		return numBuckets - 1
	}
	return pages
}

func (e *FileEngine) Alloc(size int) (*Segment, error) {
	pages := (size + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}

	e.fmu.Lock()
	b := bucketFor(pages)
	for i := b; i < numBuckets; i++ {
		if len(e.buckets[i]) > 0 {
			run := e.buckets[i][len(e.buckets[i])-1]
			e.buckets[i] = e.buckets[i][:len(e.buckets[i])-1]
			if run.pages > pages {
				// split: return the remainder to its (possibly smaller) bucket.
				remainder := &freeRun{pages: run.pages - pages}
				e.buckets[bucketFor(remainder.pages)] = append(e.buckets[bucketFor(remainder.pages)], remainder)
			}
			break
		}
	}
	e.fmu.Unlock()

	space := pages * pageSize
	id, err := e.db.Put(make([]byte, space))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}

	seg := &Segment{Engine: e, handle: id, buf: make([]byte, space), Space: space}
	e.counters.GSpace.Inc(int64(space))
	e.counters.GAlloc.Inc(1)
	e.counters.GSmf.Inc(1)
	if pages >= numBuckets-1 {
		e.counters.GSmfLarge.Inc(1)
	}
	return seg, nil
}

func (e *FileEngine) Free(seg *Segment) {
	id, ok := seg.handle.(uint64)
	if !ok {
		return
	}
	_ = e.db.Delete(id)

	pages := seg.Space / pageSize
	e.fmu.Lock()
	e.buckets[bucketFor(pages)] = append(e.buckets[bucketFor(pages)], &freeRun{pages: pages})
	e.fmu.Unlock()

	e.counters.GBytes.Dec(int64(seg.Len))
	e.counters.GSpace.Dec(int64(seg.Space))
	e.counters.GAlloc.Dec(1)
	e.counters.GSmf.Dec(1)
}

// Trim splits off and frees a tail, per spec.md §4.2.
func (e *FileEngine) Trim(seg *Segment, newLen int) error {
	if newLen >= seg.Space {
		return nil
	}
	newPages := (newLen + pageSize - 1) / pageSize
	if newPages == 0 {
		newPages = 1
	}
	oldPages := seg.Space / pageSize
	freed := oldPages - newPages
	if freed <= 0 {
		return nil
	}

	e.fmu.Lock()
	e.buckets[bucketFor(freed)] = append(e.buckets[bucketFor(freed)], &freeRun{pages: freed})
	e.fmu.Unlock()

	seg.Space = newPages * pageSize
	if seg.Len > seg.Space {
		seg.Len = seg.Space
	}
	e.counters.GSpace.Dec(int64(freed * pageSize))
	e.counters.GSmfFrag.Inc(1)
	return nil
}

func (e *FileEngine) commitID(seg *Segment, body []byte) error {
	id, ok := seg.handle.(uint64)
	if !ok {
		return fmt.Errorf("storage: segment has no billy handle")
	}
	if err := e.db.Delete(id); err != nil {
		return err
	}
	newID, err := e.db.Put(body)
	if err != nil {
		return err
	}
	seg.handle = newID
	return nil
}

var _ Trimmer = (*FileEngine)(nil)
