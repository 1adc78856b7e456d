// Package ban implements the deferred-invalidation subsystem of spec.md
// §4.6: an append-only, newest-to-oldest list of predicates, lazy
// evaluation walked at lookup time, and a background lurker that amortizes
// the same evaluation across objects that haven't been looked up in a
// while. Equality/inequality predicates compile to a single
// hashicorp/go-bexpr expression (bexpr natively supports exactly that
// subset against a map datum); the PCRE-flavored ~ / !~ operators are
// evaluated separately through dlclark/regexp2, since bexpr's own
// "matches" operator is RE2-only and the original Varnish ban language
// (cache_ban.c) is PCRE-compatible.
package ban

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/hashicorp/go-bexpr"
)

// Op is one of the four comparison operators spec.md §4.6 names.
type Op string

const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
	OpMatch    Op = "~"
	OpNoMatch  Op = "!~"
)

// Predicate is one (field, op, operand) triple (spec.md §3 "Ban").
type Predicate struct {
	Field   string
	Op      Op
	Operand string
}

// compiled is a ban's predicate conjunction, split into the part bexpr can
// evaluate directly and the part that needs a PCRE engine.
type compiled struct {
	bexprEval *bexpr.Evaluator // nil if there were no ==/!= predicates
	regexes   []regexPredicate
}

type regexPredicate struct {
	field   string
	negate  bool
	pattern *regexp2.Regexp
}

// compilePredicates builds the combined evaluator for one ban.
func compilePredicates(preds []Predicate) (*compiled, error) {
	var bexprParts []string
	var regexes []regexPredicate

	for _, p := range preds {
		switch p.Op {
		case OpEqual, OpNotEqual:
			bexprParts = append(bexprParts, fmt.Sprintf("%s %s %q", bexprSelector(p.Field), p.Op, p.Operand))
		case OpMatch, OpNoMatch:
			re, err := regexp2.Compile(p.Operand, regexp2.None)
			if err != nil {
				return nil, fmt.Errorf("ban: compile regex %q for field %q: %w", p.Operand, p.Field, err)
			}
			regexes = append(regexes, regexPredicate{field: p.Field, negate: p.Op == OpNoMatch, pattern: re})
		default:
			return nil, fmt.Errorf("ban: unknown operator %q", p.Op)
		}
	}

	c := &compiled{regexes: regexes}
	if len(bexprParts) > 0 {
		expr := strings.Join(bexprParts, " and ")
		ev, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return nil, fmt.Errorf("ban: compile expression %q: %w", expr, err)
		}
		c.bexprEval = ev
	}
	return c, nil
}

// bexprSelector turns a dotted field name (req.url, obj.status) into a flat
// bexpr selector by folding every dot to an underscore (req_url,
// obj_status), the same folding Fields.flatten applies to the datum keys.
func bexprSelector(field string) string {
	return strings.ReplaceAll(field, ".", "_")
}

// Fields is the flat attribute map a ban's predicates are tested against:
// req.url, obj.status, obj.http.<header>, etc, with dots folded to
// underscores to match bexprSelector. Built fresh per lookup from the
// ObjCore/request under evaluation.
type Fields map[string]string

// flatten converts Fields into the map[string]string datum bexpr expects,
// applying the same underscore-folding as bexprSelector so keys line up.
func (f Fields) flatten() map[string]string {
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[strings.ReplaceAll(k, ".", "_")] = v
	}
	return out
}

// match reports whether fields satisfies every predicate in c (a
// conjunction, per spec.md §4.6 "Structure").
func (c *compiled) match(fields Fields) (bool, error) {
	if c.bexprEval != nil {
		ok, err := c.bexprEval.Evaluate(fields.flatten())
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for _, rp := range c.regexes {
		val := fields[rp.field]
		ok, err := rp.pattern.MatchString(val)
		if err != nil {
			return false, err
		}
		if ok == rp.negate {
			return false, nil
		}
	}
	return true, nil
}
