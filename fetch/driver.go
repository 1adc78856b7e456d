package fetch

import (
	"context"
	"time"

	"github.com/coreproxy/cachecore/objcore"
	"github.com/coreproxy/cachecore/storage"
)

// Driver pumps a Pipeline into storage and the owning BusyObject,
// implementing the body half of spec.md §4.5's fetch pipeline: it
// repeatedly pulls from the top filter, writes committed bytes into
// engine-owned segments appended to the Object, and calls Extend so
// concurrent deliveries see new bytes as soon as they are durable in
// storage (spec.md §4.5 "extend(n) takes the mutex, grows len by n,
// broadcasts").
type Driver struct {
	pipeline     *Pipeline
	engine       storage.Engine
	nuker        *storage.Nuker
	chunkSize    int
	maxChunkSize int
	nukeLimit    uint32

	Object *objcore.Object
	Busy   *objcore.BusyObject
}

// NewDriver returns a Driver writing into engine-backed segments sized by
// chunkSize (config.Params.FetchChunksize), never exceeding maxChunkSize
// (config.Params.FetchMaxChunksize), retrying allocation failures via
// nuker up to nukeLimit times (config.Params.NukeLimit, spec.md §4.2
// "Failure").
func NewDriver(p *Pipeline, engine storage.Engine, nuker *storage.Nuker, chunkSize, maxChunkSize int, nukeLimit uint32, obj *objcore.Object, busy *objcore.BusyObject) *Driver {
	if chunkSize <= 0 {
		chunkSize = 16 * 1024
	}
	if maxChunkSize < chunkSize {
		maxChunkSize = chunkSize
	}
	return &Driver{
		pipeline:     p,
		engine:       engine,
		nuker:        nuker,
		chunkSize:    chunkSize,
		maxChunkSize: maxChunkSize,
		nukeLimit:    nukeLimit,
		Object:       obj,
		Busy:         busy,
	}
}

// Run drains the pipeline to completion, writing bytes into storage as
// they arrive and marking Busy Finished or Failed at the end. nuke is
// storage's nuke_one callback for this engine's LRU (spec.md §4.4
// "Nuke-one"), supplied by the caller since the fetch package has no
// notion of the expiry engine that owns it.
func (d *Driver) Run(ctx context.Context, nuke storage.NukeFunc) error {
	d.Busy.SetState(objcore.Fetching)
	defer d.pipeline.Fini()

	cur, err := d.allocSegment(ctx, nuke)
	if err != nil {
		d.Busy.Fail(err, objcore.CloseOriginError)
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, res, err := d.pipeline.Pull(buf)
		if n > 0 {
			if werr := d.write(ctx, nuke, &cur, buf[:n]); werr != nil {
				d.Busy.Fail(werr, objcore.CloseOriginError)
				return werr
			}
			d.Busy.Extend(int64(n))
		}
		if err != nil {
			d.Busy.Fail(err, objcore.CloseOriginError)
			return err
		}
		if res == ResultEnd {
			d.Busy.Finish()
			return nil
		}
	}
}

// Abandon stops the fetch early (client disconnect on an otherwise
// uncacheable PASS response, spec.md §4.5 "Abandonment"), tearing down
// the pipeline and marking the BusyObject failed with CloseAbandoned.
func (d *Driver) Abandon() {
	d.pipeline.Fini()
	d.Busy.Fail(errAbandoned, objcore.CloseAbandoned)
}

type fetchError string

func (e fetchError) Error() string { return string(e) }

const errAbandoned = fetchError("fetch: delivery abandoned before completion")

func (d *Driver) write(ctx context.Context, nuke storage.NukeFunc, cur **storage.Segment, p []byte) error {
	for len(p) > 0 {
		seg := *cur
		room := seg.Space - seg.Len
		if room == 0 {
			next, err := d.allocSegment(ctx, nuke)
			if err != nil {
				return err
			}
			*cur = next
			seg = next
			room = seg.Space
		}
		n := len(p)
		if n > room {
			n = room
		}
		if _, err := seg.Extend(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (d *Driver) allocSegment(ctx context.Context, nuke storage.NukeFunc) (*storage.Segment, error) {
	size := d.chunkSize
	if size > d.maxChunkSize {
		size = d.maxChunkSize
	}
	seg, err := d.nuker.AllocWithNuke(ctx, d.engine, size, nuke, d.nukeLimit)
	if err != nil {
		return nil, err
	}
	d.Object.AppendSegment(seg)
	return seg, nil
}

// StageTimeouts bounds the connect/first-byte/between-bytes stages of a
// fetch (spec.md §5 "Fetch has per-stage timeouts"). WithDeadline derives
// a context a caller should wrap the origin io.Reader's owning connection
// with before constructing the Pipeline.
type StageTimeouts struct {
	Connect      time.Duration
	FirstByte    time.Duration
	BetweenBytes time.Duration
}

// WithDeadline returns a context bounded by whichever of the three stage
// timeouts is currently active, given whether any byte has been received
// yet. Callers re-derive a fresh context from the parent before each Pull
// so BetweenBytes restarts on every byte.
func (s StageTimeouts) WithDeadline(ctx context.Context, haveFirstByte bool) (context.Context, context.CancelFunc) {
	d := s.Connect
	if haveFirstByte {
		d = s.BetweenBytes
	} else if s.FirstByte > 0 {
		d = s.FirstByte
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
