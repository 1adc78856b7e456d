package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/coreproxy/cachecore/objcore"
	"github.com/coreproxy/cachecore/storage"
	"github.com/stretchr/testify/require"
)

func TestPipelinePassthrough(t *testing.T) {
	p := NewPipeline(NewOriginSource(strings.NewReader("hello world")))
	buf := make([]byte, 64)
	n, res, err := p.Pull(buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
	require.Equal(t, ResultOK, res)

	n, res, err = p.Pull(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, ResultEnd, res)
}

func TestPipelineRejectsDuplicateFilterName(t *testing.T) {
	p := NewPipeline(NewOriginSource(strings.NewReader("x")))
	require.NoError(t, p.PushBottom(NewGunzip()))
	err := p.PushTop(NewGunzip())
	require.Error(t, err)
}

func TestGunzipDecodesOriginBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("the quick brown fox"))
	require.NoError(t, zw.Close())

	p := NewPipeline(NewOriginSource(&buf))
	require.NoError(t, p.PushBottom(NewGunzip()))

	var got bytes.Buffer
	readbuf := make([]byte, 8)
	for {
		n, res, err := p.Pull(readbuf)
		require.NoError(t, err)
		got.Write(readbuf[:n])
		if res == ResultEnd {
			break
		}
	}
	require.Equal(t, "the quick brown fox", got.String())
	require.NoError(t, p.Fini())
}

func TestGzipThenGunzipRoundTrips(t *testing.T) {
	p := NewPipeline(NewOriginSource(strings.NewReader("round trip body")))
	require.NoError(t, p.PushBottom(NewGzip()))

	var compressed bytes.Buffer
	readbuf := make([]byte, 16)
	for {
		n, res, err := p.Pull(readbuf)
		require.NoError(t, err)
		compressed.Write(readbuf[:n])
		if res == ResultEnd {
			break
		}
	}

	gz, err := gzip.NewReader(&compressed)
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(gz)
	require.NoError(t, err)
	require.Equal(t, "round trip body", out.String())
}

func TestESIFilterFindsIncludesAcrossChunkBoundaries(t *testing.T) {
	body := `<html><esi:include src="/frag/a"/>middle<esi:include src="/frag/b"/></html>`
	var found []objcore.ESIChild
	esi := NewESI(func(c objcore.ESIChild) { found = append(found, c) })

	p := NewPipeline(NewOriginSource(strings.NewReader(body)))
	require.NoError(t, p.PushTop(esi))

	readbuf := make([]byte, 5) // deliberately small to force a split tag
	for {
		_, res, err := p.Pull(readbuf)
		require.NoError(t, err)
		if res == ResultEnd {
			break
		}
	}
	require.Len(t, found, 2)
	require.Equal(t, "/frag/a", found[0].URL)
	require.Equal(t, "/frag/b", found[1].URL)
}

func TestTestGzipDetectsCorruption(t *testing.T) {
	tg := NewTestGzip()
	p := NewPipeline(NewOriginSource(strings.NewReader("not actually gzip data")))
	require.NoError(t, p.PushBottom(tg))

	readbuf := make([]byte, 8)
	for {
		_, res, err := p.Pull(readbuf)
		require.NoError(t, err)
		if res == ResultEnd {
			break
		}
	}
	require.Error(t, p.Fini())
}

func TestDriverStreamsIntoStorageAndDelivery(t *testing.T) {
	engine := storage.NewMallocEngine("t", 4<<20)
	nuker := storage.NewNuker(4)
	obj := objcore.NewObject()
	busy := objcore.NewBusyObject()

	pipeline := NewPipeline(NewOriginSource(strings.NewReader("streamed body bytes")))
	driver := NewDriver(pipeline, engine, nuker, 4, 4, 2, obj, busy)

	oc := objcore.NewObjCore()
	oc.Object = obj
	delivery := DeliverBegin(oc, busy)

	errCh := make(chan error, 1)
	go func() { errCh <- driver.Run(context.Background(), func() int { return -1 }) }()

	var got bytes.Buffer
	for {
		chunk, status, err := delivery.Next()
		require.NoError(t, err)
		got.Write(chunk)
		if status == IterDone {
			break
		}
	}
	require.NoError(t, <-errCh)
	require.Equal(t, "streamed body bytes", got.String())
}
