// Package fetch implements the running-fetch pipeline of spec.md §4.5: a
// stack of filters (gunzip, gzip, esi, test-gzip) chained nose-to-tail and
// pulled from the top, streaming committed bytes into Storage while
// exposing partial progress to concurrent deliveries through the owning
// BusyObject, plus the streaming delivery iterator named in spec.md §6
// (deliver_begin/deliver_iter/deliver_end).
package fetch

import "io"

// Result is what one Pull call reports about the byte count it returns,
// mirroring spec.md §4.5 "each layer returns {OK, END, ERROR} and a byte
// count."
type Result int

const (
	ResultOK Result = iota
	ResultEnd
	ResultError
)

// Source is the pull-based interface every pipeline stage, including the
// origin connection itself, satisfies. A filter wraps the Source beneath
// it and is itself a Source for whatever is pushed above it.
type Source interface {
	Pull(p []byte) (n int, res Result, err error)
}

// Filter is one stage of the fetch pipeline (spec.md §4.5 "each filter
// exposes init/pull/fini"). Init is called exactly once, at pipeline
// Build time, and returns the Source the next stage up pulls from; Fini
// runs once the fetch has ended, from the filter nearest the origin up to
// the one nearest storage, to release any filter-owned resources (e.g. a
// gzip.Reader or a goroutine feeding a pipe).
type Filter interface {
	Name() string
	Init(src Source) (Source, error)
	Fini() error
}

// originSource adapts a plain io.Reader (the backend connection) into the
// bottom of the pipeline.
type originSource struct {
	r io.Reader
}

// NewOriginSource wraps r as the Source at the very bottom of a Pipeline.
func NewOriginSource(r io.Reader) Source {
	return &originSource{r: r}
}

func (o *originSource) Pull(p []byte) (int, Result, error) {
	n, err := o.r.Read(p)
	if err == io.EOF {
		return n, ResultEnd, nil
	}
	if err != nil {
		return n, ResultError, err
	}
	return n, ResultOK, nil
}

// sourceReader adapts a Source back into an io.Reader, for filters (like
// gunzip/test-gzip) that drive their transform through a stdlib decoder
// expecting an io.Reader. It satisfies the ordinary Reader contract:
// once the wrapped Source reports ResultEnd, every subsequent Read
// returns io.EOF without calling Pull again.
type sourceReader struct {
	src   Source
	ended bool
}

func (r *sourceReader) Read(p []byte) (int, error) {
	if r.ended {
		return 0, io.EOF
	}
	n, res, err := r.src.Pull(p)
	if err != nil {
		return n, err
	}
	if res == ResultEnd {
		r.ended = true
		if n == 0 {
			return 0, io.EOF
		}
	}
	return n, nil
}
