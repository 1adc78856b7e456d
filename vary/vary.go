// Package vary implements encoding and matching of HTTP Vary-derived cache
// keys, supplementing spec.md's data model (ObjCore "if it has a vary key,
// call vary-match") with the concrete algorithm the original Varnish cache
// uses in cache_vary.c: a Vary spec is the ordered list of request header
// names named by the response's own Vary header, and a candidate matches
// only if every one of those header values, as seen at insertion time,
// equals the value in the new request.
package vary

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Spec is an encoded Vary specification: the header names to match on (in
// canonical, case-folded, sorted order) together with the values observed
// on the request that produced the cached variant.
type Spec struct {
	Headers []string          // canonical header names, sorted
	Values  map[string]string // header name -> captured value
}

// ParseVaryHeader splits a response's raw Vary header value ("Accept-Encoding,
// Cookie") into canonical header names. A bare "*" makes every variant
// unique and is reported via the ok=false return so callers can treat the
// object as effectively uncacheable across requests (it matches nothing).
func ParseVaryHeader(raw string) (names []string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	names = make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == "*" {
			return nil, false
		}
		names = append(names, strings.ToLower(p))
	}
	sort.Strings(names)
	return names, true
}

// Build captures a Spec from the request headers that produced a cached
// variant, given the canonical Vary header name list.
func Build(names []string, get func(header string) string) Spec {
	values := make(map[string]string, len(names))
	for _, n := range names {
		values[n] = get(n)
	}
	return Spec{Headers: append([]string(nil), names...), Values: values}
}

// Match reports whether a new request (queried via get) satisfies the
// recorded Spec: every header this variant varies on must have the exact
// same value now as when the variant was stored.
func (s Spec) Match(get func(header string) string) bool {
	for _, h := range s.Headers {
		if get(h) != s.Values[h] {
			return false
		}
	}
	return true
}

// Key returns a stable digest of the Spec suitable for embedding in an
// Object's persisted vary key field (spec.md §3 "Object ... Carries: ...
// vary key").
func (s Spec) Key() string {
	h := sha256.New()
	for _, n := range s.Headers {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(s.Values[n]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Empty reports whether the spec has no varying headers, i.e. the response
// never sent Vary (or sent an empty one): it matches every request.
func (s Spec) Empty() bool { return len(s.Headers) == 0 }
