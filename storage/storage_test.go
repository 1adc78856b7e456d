package storage

import "testing"

func TestMallocEngineAllocFree(t *testing.T) {
	e := NewMallocEngine("test", 4<<20)
	seg, err := e.Alloc(128)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if seg.Space != 128 {
		t.Fatalf("expected space 128, got %d", seg.Space)
	}
	if _, err := seg.Extend([]byte("hello")); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if string(seg.Bytes()) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", seg.Bytes())
	}
	e.Free(seg)
}

func TestSegmentExtendRejectsOverflow(t *testing.T) {
	e := NewMallocEngine("test2", 4<<20)
	seg, _ := e.Alloc(4)
	if _, err := seg.Extend([]byte("toolong")); err == nil {
		t.Fatalf("expected error extending past capacity")
	}
}

func TestSyntheticEngineNewSynthetic(t *testing.T) {
	e := NewSyntheticEngine()
	seg, err := e.NewSynthetic([]byte("502 Bad Gateway"))
	if err != nil {
		t.Fatalf("new synthetic: %v", err)
	}
	if string(seg.Bytes()) != "502 Bad Gateway" {
		t.Fatalf("unexpected body %q", seg.Bytes())
	}
}

func TestTransientEngineReservedName(t *testing.T) {
	e := NewTransientEngine(1 << 20)
	if e.Name() != TransientIdent {
		t.Fatalf("expected name %q, got %q", TransientIdent, e.Name())
	}
}

func TestRegistryNewFromTokenMalloc(t *testing.T) {
	e, err := NewFromToken("main", "malloc,64M")
	if err != nil {
		t.Fatalf("new from token: %v", err)
	}
	if e.Name() != "main" {
		t.Fatalf("expected name 'main', got %q", e.Name())
	}
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]int64{
		"64":  64,
		"1k":  1 << 10,
		"2M":  2 << 20,
		"1G":  1 << 30,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		if err != nil {
			t.Fatalf("parseSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	e := NewSyntheticEngine()
	if err := r.Register(e); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(e); err == nil {
		t.Fatalf("expected error on duplicate register")
	}
}
