package storage

import "testing"

func TestFileEngineAllocRoundsToPage(t *testing.T) {
	e, err := NewFileEngine("file0", t.TempDir(), 16<<20, 0)
	if err != nil {
		t.Fatalf("new file engine: %v", err)
	}
	defer e.Close()

	seg, err := e.Alloc(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if seg.Space != pageSize {
		t.Fatalf("expected segment space %d, got %d", pageSize, seg.Space)
	}
}

func TestFileEngineAllocAboveOnePageRoundsUp(t *testing.T) {
	e, err := NewFileEngine("file1", t.TempDir(), 16<<20, 0)
	if err != nil {
		t.Fatalf("new file engine: %v", err)
	}
	defer e.Close()

	seg, err := e.Alloc(pageSize + 1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if seg.Space < 2*pageSize {
		t.Fatalf("expected at least 2 pages, got %d bytes", seg.Space)
	}
}

func TestFileEngineFreeReturnsToBucket(t *testing.T) {
	e, err := NewFileEngine("file2", t.TempDir(), 16<<20, 0)
	if err != nil {
		t.Fatalf("new file engine: %v", err)
	}
	defer e.Close()

	seg, err := e.Alloc(pageSize)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	e.Free(seg)

	e.fmu.Lock()
	n := len(e.buckets[bucketFor(1)])
	e.fmu.Unlock()
	if n == 0 {
		t.Fatalf("expected freed run to appear in bucket")
	}
}
