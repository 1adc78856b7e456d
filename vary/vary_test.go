package vary

import "testing"

func TestParseVaryHeaderSortsAndFolds(t *testing.T) {
	names, ok := ParseVaryHeader("Cookie, Accept-Encoding")
	if !ok {
		t.Fatalf("expected ok for normal Vary header")
	}
	want := []string{"accept-encoding", "cookie"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("got %v, want %v", names, want)
	}
}

func TestParseVaryHeaderStar(t *testing.T) {
	_, ok := ParseVaryHeader("*")
	if ok {
		t.Fatalf("expected ok=false for Vary: *")
	}
}

func TestMatchRequiresAllHeadersEqual(t *testing.T) {
	names, _ := ParseVaryHeader("Accept-Encoding")
	reqHeaders := map[string]string{"accept-encoding": "gzip"}
	s := Build(names, func(h string) string { return reqHeaders[h] })

	if !s.Match(func(h string) string { return reqHeaders[h] }) {
		t.Fatalf("expected match against identical headers")
	}

	other := map[string]string{"accept-encoding": "br"}
	if s.Match(func(h string) string { return other[h] }) {
		t.Fatalf("expected mismatch against different Accept-Encoding")
	}
}

func TestEmptySpecMatchesEverything(t *testing.T) {
	var s Spec
	if !s.Empty() {
		t.Fatalf("expected zero-value spec to be empty")
	}
	if !s.Match(func(string) string { return "anything" }) {
		t.Fatalf("expected empty spec to match unconditionally")
	}
}

func TestKeyIsStableForSameSpec(t *testing.T) {
	names, _ := ParseVaryHeader("Accept-Encoding, Cookie")
	values := map[string]string{"accept-encoding": "gzip", "cookie": "a=b"}
	s1 := Build(names, func(h string) string { return values[h] })
	s2 := Build(names, func(h string) string { return values[h] })
	if s1.Key() != s2.Key() {
		t.Fatalf("expected identical keys for identical specs")
	}
}
