package fetch

import (
	"compress/gzip"
	"fmt"
	"io"
)

// TestGzip verifies the integrity of a gzip body as it streams through,
// without altering the bytes delivered upstream (spec.md §4.5 "verify
// gzip integrity"). It mirrors the bytes it pulls into a gzip decoder
// running in the background; Fini reports the first corruption found.
type TestGzip struct {
	pw    *io.PipeWriter
	errCh chan error
}

// NewTestGzip returns an uninitialized TestGzip filter.
func NewTestGzip() *TestGzip { return &TestGzip{} }

func (t *TestGzip) Name() string { return "test-gzip" }

func (t *TestGzip) Init(src Source) (Source, error) {
	pr, pw := io.Pipe()
	t.pw = pw
	t.errCh = make(chan error, 1)

	go func() {
		gz, err := gzip.NewReader(pr)
		if err != nil {
			t.errCh <- err
			io.Copy(io.Discard, pr)
			return
		}
		_, err = io.Copy(io.Discard, gz)
		t.errCh <- err
	}()

	return &testGzipSource{src: src, pw: pw}, nil
}

func (t *TestGzip) Fini() error {
	select {
	case err := <-t.errCh:
		if err != nil && err != io.EOF {
			return fmt.Errorf("fetch: test-gzip integrity check failed: %w", err)
		}
		return nil
	default:
		return nil
	}
}

// testGzipSource is the Source TestGzip.Init hands back: it passes bytes
// through to the next filter up unmodified, mirroring them into the
// verification pipe.
type testGzipSource struct {
	src    Source
	pw     *io.PipeWriter
	closed bool
}

func (s *testGzipSource) Pull(p []byte) (int, Result, error) {
	n, res, err := s.src.Pull(p)
	if n > 0 && !s.closed {
		if _, werr := s.pw.Write(p[:n]); werr != nil {
			s.closed = true
		}
	}
	if !s.closed && (res == ResultEnd || err != nil) {
		s.pw.Close()
		s.closed = true
	}
	return n, res, err
}
