package fetch

import (
	"compress/gzip"
	"io"
)

// Gunzip decompresses a gzip-encoded origin response on the way in, so the
// cached form is identity (spec.md §4.5 "subsequent filters may gunzip on
// the way in (so the cached form is identity)"). Pushed on the bottom,
// directly above the origin.
type Gunzip struct {
	gz *gzip.Reader
}

// NewGunzip returns an uninitialized Gunzip filter.
func NewGunzip() *Gunzip { return &Gunzip{} }

func (g *Gunzip) Name() string { return "gunzip" }

func (g *Gunzip) Init(src Source) (Source, error) {
	gz, err := gzip.NewReader(&sourceReader{src: src})
	if err != nil {
		return nil, err
	}
	g.gz = gz
	return g, nil
}

func (g *Gunzip) Pull(p []byte) (int, Result, error) {
	n, err := g.gz.Read(p)
	if err == io.EOF {
		return n, ResultEnd, nil
	}
	if err != nil {
		return n, ResultError, err
	}
	return n, ResultOK, nil
}

func (g *Gunzip) Fini() error {
	if g.gz == nil {
		return nil
	}
	return g.gz.Close()
}
