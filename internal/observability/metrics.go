package observability

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names.
const (
	MetricRunsTotal       = "mediate_runs_total"
	MetricRunDuration     = "mediate_run_duration_ms"
	MetricModuleRuns      = "mediate_module_runs_total"
	MetricModuleFailures  = "mediate_module_failures_total"
	MetricSynthesisFailed = "mediate_synthesis_failures_total"
	MetricSourcesClaimed  = "mediate_sources_claimed_total"
	MetricSourcesDropped  = "mediate_sources_dropped_total"
	MetricResolutions     = "mediate_resolutions_total"
)

// Labels for metrics.
type Labels map[string]string

// Counter is a monotonically increasing metric.
type Counter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	atomic.AddInt64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Registry holds counters keyed by name and labels.
type Registry struct {
	counters map[string]*Counter
	mu       sync.RWMutex
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter)}
}

// Counter returns or creates a counter with the given name and labels.
func (r *Registry) Counter(name string, labels Labels) *Counter {
	key := metricKey(name, labels)

	r.mu.RLock()
	if c, ok := r.counters[key]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{}
	r.counters[key] = c
	return c
}

// Snapshot returns current counter values keyed by metric key.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]int64, len(r.counters))
	for k, c := range r.counters {
		snap[k] = c.Value()
	}
	return snap
}

// metricKey renders name{k=v,...} with labels sorted.
func metricKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

// Metrics provides typed access to the counters the mediator updates.
type Metrics struct {
	registry *Registry
}

// NewMetrics wraps registry; a nil registry gets a private one.
func NewMetrics(registry *Registry) *Metrics {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Metrics{registry: registry}
}

// RecordRun records one finished run.
func (m *Metrics) RecordRun(d time.Duration) {
	m.registry.Counter(MetricRunsTotal, nil).Inc()
	m.registry.Counter(MetricRunDuration, nil).Add(d.Milliseconds())
}

// RecordRound records how many modules a round dispatched and how many succeeded.
func (m *Metrics) RecordRound(round string, dispatched, succeeded int) {
	labels := Labels{"round": round}
	m.registry.Counter(MetricModuleRuns, labels).Add(int64(dispatched))
	m.registry.Counter(MetricModuleFailures, labels).Add(int64(dispatched - succeeded))
}

// RecordSynthesisFailure counts a failed synthesis call.
func (m *Metrics) RecordSynthesisFailure() {
	m.registry.Counter(MetricSynthesisFailed, nil).Inc()
}

// RecordSources records claimed and dropped source strings.
func (m *Metrics) RecordSources(claimed, dropped int) {
	m.registry.Counter(MetricSourcesClaimed, nil).Add(int64(claimed))
	m.registry.Counter(MetricSourcesDropped, nil).Add(int64(dropped))
}

// RecordResolutions counts deep-research verdicts.
func (m *Metrics) RecordResolutions(n int) {
	m.registry.Counter(MetricResolutions, nil).Add(int64(n))
}

// Snapshot returns the underlying counters.
func (m *Metrics) Snapshot() map[string]int64 {
	return m.registry.Snapshot()
}
