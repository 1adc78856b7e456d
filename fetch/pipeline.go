package fetch

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Pipeline is the fetch filter stack of spec.md §4.5: filters are pushed
// either on top (closer to storage) or on bottom (closer to origin), and
// the chain is built exactly once per fetch (spec.md §9 "No runtime
// vtable lookup on the hot pull path is required because the chain is
// built once per fetch"). names tracks installed filter names in a
// generic set (github.com/deckarep/golang-set/v2) so pushing the same
// filter twice is rejected rather than silently double-wrapping.
type Pipeline struct {
	names mapset.Set[string]

	bottom []Filter // index 0 = directly above the origin
	top    []Filter // index 0 = directly above bottom, last = closest to storage

	origin Source
	chain  Source
	built  bool
}

// NewPipeline returns a Pipeline rooted at origin, the raw backend byte
// stream.
func NewPipeline(origin Source) *Pipeline {
	return &Pipeline{names: mapset.NewSet[string](), origin: origin}
}

// PushBottom installs f directly above the origin, below every other
// filter pushed so far on the bottom stack, e.g. a gunzip filter that
// must see the raw origin bytes before anything else does.
func (p *Pipeline) PushBottom(f Filter) error {
	if p.built {
		return fmt.Errorf("fetch: pipeline already built, cannot push %q", f.Name())
	}
	if p.names.Contains(f.Name()) {
		return fmt.Errorf("fetch: filter %q already installed", f.Name())
	}
	p.names.Add(f.Name())
	p.bottom = append([]Filter{f}, p.bottom...)
	return nil
}

// PushTop installs f closest to storage, above every filter pushed so far,
// e.g. an ESI parser that wants the fully decoded body.
func (p *Pipeline) PushTop(f Filter) error {
	if p.built {
		return fmt.Errorf("fetch: pipeline already built, cannot push %q", f.Name())
	}
	if p.names.Contains(f.Name()) {
		return fmt.Errorf("fetch: filter %q already installed", f.Name())
	}
	p.names.Add(f.Name())
	p.top = append(p.top, f)
	return nil
}

// Has reports whether a filter with this name is already installed.
func (p *Pipeline) Has(name string) bool { return p.names.Contains(name) }

// Build wires every pushed filter around the origin, nose-to-tail, bottom
// first. Called automatically by the first Pull if not called explicitly.
func (p *Pipeline) Build() error {
	if p.built {
		return nil
	}
	src := p.origin
	for _, f := range p.bottom {
		s, err := f.Init(src)
		if err != nil {
			return fmt.Errorf("fetch: init filter %q: %w", f.Name(), err)
		}
		src = s
	}
	for _, f := range p.top {
		s, err := f.Init(src)
		if err != nil {
			return fmt.Errorf("fetch: init filter %q: %w", f.Name(), err)
		}
		src = s
	}
	p.chain = src
	p.built = true
	return nil
}

// Pull reads from the top of the pipeline, recursively pulling down
// through every wrapped filter to the origin (spec.md §4.5 "The driver
// repeatedly calls pull on the top filter, which recursively pulls from
// below").
func (p *Pipeline) Pull(buf []byte) (int, Result, error) {
	if !p.built {
		if err := p.Build(); err != nil {
			return 0, ResultError, err
		}
	}
	return p.chain.Pull(buf)
}

// Fini tears down every installed filter in stack order, from the filter
// nearest the origin up to the one nearest storage,
// returning the first error encountered, matching the teacher's
// scoped-guard release-in-order style (spec.md §9).
func (p *Pipeline) Fini() error {
	var first error
	for _, f := range p.bottom {
		if err := f.Fini(); err != nil && first == nil {
			first = err
		}
	}
	for _, f := range p.top {
		if err := f.Fini(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
