package perspective

import (
	"fmt"
	"log/slog"

	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/model"
)

// Registry is the roster of one run: modules keyed by name, in insertion
// order. It is not safe for concurrent mutation; build it before dispatch.
type Registry struct {
	order   []string
	modules map[string]Module
}

// NewRegistry returns an empty roster.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Add appends m to the roster.
func (r *Registry) Add(m Module) error {
	if _, ok := r.modules[m.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, m.Name())
	}
	r.order = append(r.order, m.Name())
	r.modules[m.Name()] = m
	return nil
}

// Get returns the module called name.
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Has reports whether name is on the roster.
func (r *Registry) Has(name string) bool {
	_, ok := r.modules[name]
	return ok
}

// Len returns the roster size.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns module names in roster order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Modules returns the modules in roster order.
func (r *Registry) Modules() []Module {
	out := make([]Module, len(r.order))
	for i, n := range r.order {
		out[i] = r.modules[n]
	}
	return out
}

// Subset returns a new roster holding only the named modules that are
// present, in this roster's order.
func (r *Registry) Subset(names []string) *Registry {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := NewRegistry()
	for _, n := range r.order {
		if keep[n] {
			out.order = append(out.order, n)
			out.modules[n] = r.modules[n]
		}
	}
	return out
}

// Build creates a roster from built-in names followed by ad-hoc definitions.
// Unknown built-in names are an error; invalid or duplicate ad-hoc modules are
// skipped and logged. The returned definitions are the ad-hoc modules that
// made it onto the roster.
func Build(names []string, adHoc []model.AdHocModule, svc llm.Service, logger *slog.Logger) (*Registry, []model.AdHocModule, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := NewRegistry()
	for _, n := range names {
		m, err := New(n, svc, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := reg.Add(m); err != nil {
			return nil, nil, err
		}
	}

	accepted := []model.AdHocModule{}
	for _, def := range adHoc {
		m, err := NewDynamic(def, svc, logger)
		if err != nil {
			logger.Warn("skipping ad-hoc module", "name", def.Name, "error", err)
			continue
		}
		if err := reg.Add(m); err != nil {
			logger.Warn("skipping ad-hoc module", "name", def.Name, "error", err)
			continue
		}
		accepted = append(accepted, def)
	}
	return reg, accepted, nil
}
