package fetch

import (
	"compress/gzip"
	"io"
)

// Gzip compresses an identity origin response on the way in, so the
// cached form is gzip (spec.md §4.5 "or gzip (so the cached form is
// gzip)"). Pushed on the bottom, directly above the origin. Since the
// pipeline is pull-based and gzip.Writer is push-based, compression runs
// in a dedicated goroutine feeding an io.Pipe that Pull reads from.
type Gzip struct {
	pr   *io.PipeReader
	done chan error
}

// NewGzip returns an uninitialized Gzip filter.
func NewGzip() *Gzip { return &Gzip{} }

func (g *Gzip) Name() string { return "gzip" }

func (g *Gzip) Init(src Source) (Source, error) {
	pr, pw := io.Pipe()
	g.pr = pr
	g.done = make(chan error, 1)

	go func() {
		zw := gzip.NewWriter(pw)
		buf := make([]byte, 32*1024)
		for {
			n, res, err := src.Pull(buf)
			if n > 0 {
				if _, werr := zw.Write(buf[:n]); werr != nil {
					pw.CloseWithError(werr)
					g.done <- werr
					return
				}
			}
			if err != nil {
				pw.CloseWithError(err)
				g.done <- err
				return
			}
			if res == ResultEnd {
				cerr := zw.Close()
				pw.CloseWithError(io.EOF)
				g.done <- cerr
				return
			}
		}
	}()
	return g, nil
}

func (g *Gzip) Pull(p []byte) (int, Result, error) {
	n, err := g.pr.Read(p)
	if err == io.EOF {
		return n, ResultEnd, nil
	}
	if err != nil {
		return n, ResultError, err
	}
	return n, ResultOK, nil
}

func (g *Gzip) Fini() error {
	select {
	case err := <-g.done:
		return err
	default:
		return nil
	}
}
