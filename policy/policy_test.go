package policy

import (
	"net/http"
	"testing"
	"time"
)

var defaults = Defaults{TTL: 120 * time.Second, Grace: 10 * time.Second, Keep: 0}

func TestEvaluateMaxAgeCacheable(t *testing.T) {
	h := http.Header{"Cache-Control": {"max-age=60"}}
	now := time.Unix(1000, 0)
	d := Evaluate(200, h, now, defaults)
	if !d.Cacheable {
		t.Fatalf("expected cacheable")
	}
	if d.TTL != 60*time.Second {
		t.Fatalf("expected ttl 60s, got %s", d.TTL)
	}
}

func TestEvaluateSMaxAgeOverridesMaxAge(t *testing.T) {
	h := http.Header{"Cache-Control": {"max-age=60, s-maxage=120"}}
	d := Evaluate(200, h, time.Unix(0, 0), defaults)
	if d.TTL != 120*time.Second {
		t.Fatalf("expected s-maxage to win, got ttl %s", d.TTL)
	}
}

func TestEvaluateNoStoreIsPass(t *testing.T) {
	h := http.Header{"Cache-Control": {"no-store"}}
	d := Evaluate(200, h, time.Unix(0, 0), defaults)
	if d.Cacheable {
		t.Fatalf("expected no-store to be uncacheable")
	}
	if !d.Pass {
		t.Fatalf("expected no-store to be deliverable as pass")
	}
}

func TestEvaluatePrivateWithoutSMaxAgeIsPass(t *testing.T) {
	h := http.Header{"Cache-Control": {"private"}}
	d := Evaluate(200, h, time.Unix(0, 0), defaults)
	if d.Cacheable {
		t.Fatalf("expected private to be uncacheable")
	}
}

func TestEvaluateAgeSubtractsFromTTL(t *testing.T) {
	h := http.Header{
		"Cache-Control": {"max-age=100"},
		"Age":           {"30"},
	}
	d := Evaluate(200, h, time.Unix(0, 0), defaults)
	if d.TTL != 70*time.Second {
		t.Fatalf("expected ttl 70s after subtracting age, got %s", d.TTL)
	}
}

func TestEvaluateDefaultsWhenUnset(t *testing.T) {
	d := Evaluate(200, http.Header{}, time.Unix(0, 0), defaults)
	if !d.Cacheable {
		t.Fatalf("expected plain 200 to be cacheable by default")
	}
	if d.TTL != defaults.TTL {
		t.Fatalf("expected default ttl, got %s", d.TTL)
	}
}

func TestBuildConditionalRequestFromETag(t *testing.T) {
	stored := http.Header{"ETag": {`"abc"`}}
	cr := BuildConditionalRequest(stored)
	if cr.IfNoneMatch != `"abc"` {
		t.Fatalf("expected etag carried through, got %q", cr.IfNoneMatch)
	}
}

func TestApplyRevalidationRefreshesTTL(t *testing.T) {
	stored := http.Header{"Cache-Control": {"max-age=60"}, "ETag": {`"abc"`}}
	revalidated := http.Header{"Cache-Control": {"max-age=120"}}
	d := ApplyRevalidation(stored, revalidated, time.Unix(0, 0), defaults)
	if d.TTL != 120*time.Second {
		t.Fatalf("expected refreshed ttl 120s, got %s", d.TTL)
	}
}
