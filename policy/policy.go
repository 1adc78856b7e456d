// Package policy computes TTL, grace and keep from response headers per
// RFC 7234, and supports conditional (re)fetch during the keep window.
// This is the caching core's expiry policy engine (spec.md §2 "Expiry
// policy (RFC cache rules)"), grounded on the original Varnish
// implementation's rfc2616.c (response header parsing, Cache-Control
// directive precedence, Age header handling) since spec.md's distillation
// only names the three additive intervals without prescribing how they are
// derived.
package policy

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Decision is the outcome of evaluating a backend response for
// cacheability (spec.md §6 "beresp_cacheable(headers, hints) -> Decision").
type Decision struct {
	Cacheable bool
	Pass      bool // uncacheable but still deliverable: insert as PASS
	TTL       time.Duration
	Grace     time.Duration
	Keep      time.Duration
}

// Defaults supplies the configuration fallbacks used when a response
// leaves TTL/grace/keep unset (config.Params's DefaultTTL/DefaultGrace/
// DefaultKeep, spec.md §6).
type Defaults struct {
	TTL   time.Duration
	Grace time.Duration
	Keep  time.Duration
}

// Evaluate decides cacheability and computes ttl/grace/keep for a backend
// response, following RFC 7234 §3-5 precedence: an explicit no-store or
// private (absent a shared max-age) makes the response a pass; a
// Cache-Control s-maxage or max-age overrides any Expires header; an Age
// header (time already spent in an upstream shared cache) is subtracted
// from the computed TTL.
func Evaluate(status int, h http.Header, now time.Time, d Defaults) Decision {
	cc := parseCacheControl(h.Get("Cache-Control"))

	if cc.noStore {
		return Decision{Cacheable: false, Pass: true}
	}
	if cc.private && !cc.hasSMaxAge {
		return Decision{Cacheable: false, Pass: true}
	}
	if !cacheableByStatus(status) {
		return Decision{Cacheable: false, Pass: true}
	}
	if status >= 400 && !cc.hasMaxAge && !cc.hasSMaxAge && h.Get("Expires") == "" {
		return Decision{Cacheable: false, Pass: true}
	}

	ttl := d.TTL
	switch {
	case cc.hasSMaxAge:
		ttl = cc.sMaxAge
	case cc.hasMaxAge:
		ttl = cc.maxAge
	case h.Get("Expires") != "":
		if exp, err := http.ParseTime(h.Get("Expires")); err == nil {
			ttl = exp.Sub(now)
		}
	}
	if age := parseAge(h.Get("Age")); age > 0 {
		ttl -= age
	}
	if ttl < 0 {
		ttl = 0
	}

	grace := d.Grace
	if cc.hasStaleWhileRevalidate {
		grace = cc.staleWhileRevalidate
	}

	keep := d.Keep
	if cc.noCache {
		// no-cache still permits storage, but every use must revalidate;
		// model that as ttl=0 with the full keep window available for a
		// conditional fetch.
		keep += ttl
		ttl = 0
	}

	return Decision{Cacheable: true, TTL: ttl, Grace: grace, Keep: keep}
}

func cacheableByStatus(status int) bool {
	switch status {
	case 200, 203, 204, 206, 300, 301, 404, 405, 410, 414, 501:
		return true
	default:
		return status >= 200 && status < 300
	}
}

type cacheControl struct {
	noStore                 bool
	noCache                 bool
	private                 bool
	hasMaxAge               bool
	maxAge                  time.Duration
	hasSMaxAge              bool
	sMaxAge                 time.Duration
	hasStaleWhileRevalidate bool
	staleWhileRevalidate    time.Duration
}

func parseCacheControl(raw string) cacheControl {
	var cc cacheControl
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		name, val, _ := strings.Cut(tok, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch name {
		case "no-store":
			cc.noStore = true
		case "no-cache":
			cc.noCache = true
		case "private":
			cc.private = true
		case "max-age":
			if secs, err := strconv.Atoi(val); err == nil {
				cc.hasMaxAge = true
				cc.maxAge = time.Duration(secs) * time.Second
			}
		case "s-maxage":
			if secs, err := strconv.Atoi(val); err == nil {
				cc.hasSMaxAge = true
				cc.sMaxAge = time.Duration(secs) * time.Second
			}
		case "stale-while-revalidate":
			if secs, err := strconv.Atoi(val); err == nil {
				cc.hasStaleWhileRevalidate = true
				cc.staleWhileRevalidate = time.Duration(secs) * time.Second
			}
		}
	}
	return cc
}

func parseAge(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ConditionalRequest is the revalidation request the fetch pipeline sends
// when a hit falls inside the keep window but outside ttl+grace (spec.md
// §4.3 "hit-for-revalidate"): If-None-Match / If-Modified-Since derived
// from the stored object's validators.
type ConditionalRequest struct {
	IfNoneMatch     string
	IfModifiedSince time.Time
}

// BuildConditionalRequest derives revalidation headers from a stored
// response's ETag and Last-Modified, per RFC 7234 §4.3.1.
func BuildConditionalRequest(stored http.Header) ConditionalRequest {
	var cr ConditionalRequest
	cr.IfNoneMatch = stored.Get("ETag")
	if cr.IfNoneMatch == "" {
		// Get only finds the canonical "Etag" key; accept the literal
		// spelling too, as a header map built by hand may use it.
		if v := stored["ETag"]; len(v) > 0 {
			cr.IfNoneMatch = v[0]
		}
	}
	if lm := stored.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			cr.IfModifiedSince = t
		}
	}
	return cr
}

// ApplyRevalidation merges a 304 Not Modified response's headers into the
// stored object's headers (RFC 7234 §4.3.4) and returns a fresh Decision
// with the deadline recomputed from now.
func ApplyRevalidation(stored http.Header, revalidated http.Header, now time.Time, d Defaults) Decision {
	merged := stored.Clone()
	for k, vs := range revalidated {
		if k == "Content-Length" || k == "Content-Encoding" {
			continue
		}
		merged[k] = vs
	}
	return Evaluate(200, merged, now, d)
}
