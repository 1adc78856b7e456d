package fetch

import (
	"bytes"

	"github.com/coreproxy/cachecore/objcore"
)

// esiIncludeMarker and esiTagMaxLen bound how much trailing context the
// ESI filter must retain across Pull calls to catch an include tag split
// across a chunk boundary.
const esiIncludeMarker = `<esi:include src="`
const esiTagMaxLen = 512

// ESI scans a response body for Edge Side Includes fragment references
// and records them on the owning Object as it streams through, without
// altering the bytes delivered upstream (spec.md §3 "optional ESI child
// data"; §4.5 "parse ESI includes"). Expansion of the referenced
// fragments is a VCL-equivalent policy concern and out of scope for the
// core (spec.md §1); this filter only locates and records references.
type ESI struct {
	src Source

	buf      []byte
	bufStart int64 // absolute offset of buf[0] in the body seen so far

	Record func(objcore.ESIChild)
}

// NewESI returns an ESI filter that calls record for every include tag it
// finds. Pushed on top, closest to storage, so it sees the fully decoded
// (post-gunzip) body.
func NewESI(record func(objcore.ESIChild)) *ESI {
	return &ESI{Record: record}
}

func (e *ESI) Name() string { return "esi" }

func (e *ESI) Init(src Source) (Source, error) {
	e.src = src
	return e, nil
}

func (e *ESI) Pull(p []byte) (int, Result, error) {
	n, res, err := e.src.Pull(p)
	if n > 0 {
		e.buf = append(e.buf, p[:n]...)
		e.scan()
	}
	return n, res, err
}

func (e *ESI) scan() {
	marker := []byte(esiIncludeMarker)
	for {
		idx := bytes.Index(e.buf, marker)
		if idx < 0 {
			break
		}
		rest := e.buf[idx+len(marker):]
		end := bytes.IndexByte(rest, '"')
		if end < 0 {
			// Tag is incomplete; wait for more bytes before deciding.
			break
		}
		if e.Record != nil {
			e.Record(objcore.ESIChild{
				URL:    string(rest[:end]),
				Offset: e.bufStart + int64(idx),
			})
		}
		consumed := idx + len(marker) + end + 1
		e.buf = e.buf[consumed:]
		e.bufStart += int64(consumed)
	}
	if len(e.buf) > esiTagMaxLen {
		drop := len(e.buf) - esiTagMaxLen
		e.buf = e.buf[drop:]
		e.bufStart += int64(drop)
	}
}

func (e *ESI) Fini() error { return nil }
