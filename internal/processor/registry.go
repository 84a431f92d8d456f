package processor

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrProviderUnavailable = errors.New("payment provider not configured")
)

// Registry routes provider names to their processor. It is built once at
// startup and read-only afterwards, so no locking is needed.
type Registry struct {
	processors map[string]Processor
}

func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor)}
	for _, p := range procs {
		r.processors[p.Name()] = p
	}
	return r
}

// Register adds a processor under its own name, replacing any previous one.
func (r *Registry) Register(p Processor) {
	r.processors[p.Name()] = p
}

// Get returns the processor for a provider name.
func (r *Registry) Get(name string) (Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if !p.IsAvailable() {
		return nil, fmt.Errorf("%w: %q", ErrProviderUnavailable, name)
	}
	return p, nil
}

// Names returns the registered provider names, available or not, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the names of processors whose configuration is complete.
func (r *Registry) Available() []string {
	var names []string
	for name, p := range r.processors {
		if p.IsAvailable() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
