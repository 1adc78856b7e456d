package corecache

import (
	"fmt"

	"github.com/coreproxy/cachecore/storage"
)

// NewRegistry builds a storage.Registry from a set of named configuration
// tokens (spec.md §6 "Storage engine registration": "file,/path,SIZE[,gran]"
// / "malloc[,SIZE]"), plus the two engines every Context needs regardless
// of configuration: the well-known transient store and the synthetic
// store for locally-produced bodies. Every engine is Open'd before being
// returned.
func NewRegistry(tokens map[string]string, transientBytes int) (*storage.Registry, error) {
	reg := storage.NewRegistry()

	transient := storage.NewTransientEngine(transientBytes)
	if err := transient.Open(); err != nil {
		return nil, fmt.Errorf("corecache: open transient store: %w", err)
	}
	if err := reg.Register(transient); err != nil {
		return nil, err
	}

	synthetic := storage.NewSyntheticEngine()
	if err := synthetic.Open(); err != nil {
		return nil, fmt.Errorf("corecache: open synthetic store: %w", err)
	}
	if err := reg.Register(synthetic); err != nil {
		return nil, err
	}

	for name, token := range tokens {
		e, err := storage.NewFromToken(name, token)
		if err != nil {
			return nil, fmt.Errorf("corecache: store %q: %w", name, err)
		}
		if err := e.Open(); err != nil {
			return nil, fmt.Errorf("corecache: open store %q: %w", name, err)
		}
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// CloseRegistry closes every engine in reg, collecting and returning the
// first error encountered while still attempting to close the rest.
func CloseRegistry(reg *storage.Registry) error {
	var first error
	for _, e := range reg.All() {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
