package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Registry holds every engine instantiated at startup, keyed by name, plus
// the always-present synthetic and transient engines (spec.md §6 "Storage
// engine registration").
type Registry struct {
	engines map[string]Engine
}

// NewRegistry returns an empty registry. The caller typically follows this
// with one NewFromToken call per configured storage token, then registers the
// synthetic and transient engines.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine under its own Name(), erroring on duplicates.
func (r *Registry) Register(e Engine) error {
	if _, exists := r.engines[e.Name()]; exists {
		return fmt.Errorf("storage: engine %q already registered", e.Name())
	}
	r.engines[e.Name()] = e
	return nil
}

// Lookup returns the engine registered under name, or nil.
func (r *Registry) Lookup(name string) Engine {
	return r.engines[name]
}

// Transient returns the well-known transient engine, or nil if one was
// never registered under TransientIdent.
func (r *Registry) Transient() Engine {
	return r.engines[TransientIdent]
}

// All returns every registered engine, for startup Open() and shutdown
// Close() ordering.
func (r *Registry) All() []Engine {
	out := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// NewFromToken parses a configuration token of the form:
//
//	file,/path,SIZE[,granularity]
//	malloc[,SIZE]
//
// per spec.md §6 "Storage engine registration", and constructs the
// corresponding engine under the given name.
func NewFromToken(name, token string) (Engine, error) {
	fields := strings.Split(token, ",")
	switch fields[0] {
	case "file":
		if len(fields) < 3 {
			return nil, fmt.Errorf("storage: file token %q needs path and size", token)
		}
		path := fields[1]
		size, err := parseSize(fields[2])
		if err != nil {
			return nil, fmt.Errorf("storage: file token %q: %w", token, err)
		}
		granularity := 0
		if len(fields) >= 4 {
			g, err := strconv.Atoi(fields[3])
			if err != nil {
				return nil, fmt.Errorf("storage: file token %q: bad granularity: %w", token, err)
			}
			granularity = g
		}
		return NewFileEngine(name, path, size, granularity)

	case "malloc":
		size := int64(256 << 20) // 256 MiB default budget
		if len(fields) >= 2 {
			s, err := parseSize(fields[1])
			if err != nil {
				return nil, fmt.Errorf("storage: malloc token %q: %w", token, err)
			}
			size = s
		}
		return NewMallocEngine(name, int(size)), nil

	default:
		return nil, fmt.Errorf("storage: unknown engine kind %q in token %q", fields[0], token)
	}
}

// parseSize accepts plain byte counts or a K/M/G suffix (case-insensitive),
// e.g. "64k", "256M", "2G".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
