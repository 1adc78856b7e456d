package corecache

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/coreproxy/cachecore/ban"
	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/objcore"
)

// Request is the minimal slice of an incoming HTTP request the core needs
// to compute a digest, test ban predicates, and match Vary selectors.
// Everything else (routing, auth, the rest of the policy-engine state) is
// the caller's own concern, outside this module's scope.
type Request struct {
	Method string
	Host   string
	URL    string
	Header http.Header
}

// header satisfies the vary.Match/ban field-builder's get(name) shape.
func (r *Request) header(name string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// Digest computes the request's 256-bit cache-key fingerprint from method,
// host and URL (spec.md §3 "ObjHead: uniquely identifies one cache key (by
// digest)"). Vary-selected headers are not part of the digest; they are
// matched separately per candidate once the ObjHead is found.
func (r *Request) Digest() common.Digest {
	return common.NewDigest([]byte(r.Method), []byte("\x00"), []byte(r.Host), []byte("\x00"), []byte(r.URL))
}

// banFields builds the flat attribute map a ban's predicates are tested
// against for a candidate found during a live lookup (spec.md §4.6
// "test the ObjCore's metadata against the predicates"): the requesting
// URL plus whatever the stored Object recorded about itself.
func banFields(req *Request, oc *objcore.ObjCore) ban.Fields {
	f := ban.Fields{"req.url": req.URL}
	addObjectFields(f, oc)
	return f
}

// banFieldsForObject builds the same map for a candidate visited off the
// live request path (the ban lurker's background sweep, spec.md §4.6
// "Lurker"): there the object's own recorded URL stands in for req.url,
// since no live request is driving the evaluation.
func banFieldsForObject(oc *objcore.ObjCore) ban.Fields {
	f := ban.Fields{}
	if oc.Object != nil {
		f["req.url"] = oc.Object.URL
	}
	addObjectFields(f, oc)
	return f
}

func addObjectFields(f ban.Fields, oc *objcore.ObjCore) {
	if oc.Object == nil {
		return
	}
	f["obj.status"] = strconv.Itoa(oc.Object.Status)
	for name, values := range oc.Object.Headers {
		f["obj.http."+strings.ToLower(name)] = strings.Join(values, ", ")
	}
}
