package mediator

import (
	"log/slog"

	"github.com/rand/mediate/internal/dispatch"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/research"
	"github.com/rand/mediate/internal/search"
)

// Option configures a Mediator.
type Option func(*Mediator)

// WithWeights sets per-module weights. A weight of 0 removes the module from
// the roster after selection; other weights steer synthesis.
func WithWeights(weights map[string]float64) Option {
	return func(m *Mediator) {
		m.weights = make(map[string]float64, len(weights))
		for k, v := range weights {
			m.weights[k] = v
		}
	}
}

// WithRACI passes a responsibility matrix to synthesis.
func WithRACI(raci model.RACIMatrix) Option {
	return func(m *Mediator) {
		m.raci = raci
	}
}

// WithRoster replaces the default roster used when adaptive selection is off.
func WithRoster(names ...string) Option {
	return func(m *Mediator) {
		m.roster = append([]string(nil), names...)
	}
}

// WithAutoSelect turns adaptive module selection on or off.
func WithAutoSelect(enabled bool) Option {
	return func(m *Mediator) {
		m.autoSelect = enabled
	}
}

// WithSearcher grounds module analyses and deep research in search results.
func WithSearcher(s search.Provider) Option {
	return func(m *Mediator) {
		m.searcher = s
	}
}

// WithDeepResearch turns the post-synthesis research pass on or off.
func WithDeepResearch(enabled bool) Option {
	return func(m *Mediator) {
		m.deepResearch = enabled
	}
}

// WithDispatcher overrides the dispatcher built from the service.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(m *Mediator) {
		m.dispatcher = d
	}
}

// WithResolver overrides the deep-research resolver built from the service.
func WithResolver(r *research.Resolver) Option {
	return func(m *Mediator) {
		m.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mediator) {
		if logger != nil {
			m.logger = logger
		}
	}
}
