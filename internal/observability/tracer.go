// Package observability records pipeline stage spans and run counters.
//
// A Tracer is created per run. Stage spans are started and ended by the
// mediator; the finished spans become the timing bookkeeping of the final
// aggregate.
package observability

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rand/mediate/internal/model"
)

// SpanStatus represents the status of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

func (s SpanStatus) String() string {
	switch s {
	case SpanStatusUnset:
		return "unset"
	case SpanStatusOK:
		return "ok"
	case SpanStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Span names for pipeline stages.
const (
	SpanRun         = "mediate.run"
	SpanSelection   = "selection"
	SpanRound1      = "round1"
	SpanRound2      = "round2"
	SpanSynthesis   = "synthesis"
	SpanConsolidate = "consolidate"
	SpanResearch    = "deep_research"
)

// Attribute keys.
const (
	AttrModules      = "modules"
	AttrSucceeded    = "succeeded"
	AttrSources      = "sources"
	AttrDropped      = "dropped"
	AttrItems        = "items"
	AttrErrorMessage = "error.message"
)

// Span is one timed stage of a run.
type Span struct {
	name       string
	id         string
	parentID   string
	seq        int64
	startTime  time.Time
	endTime    time.Time
	status     SpanStatus
	statusMsg  string
	attributes map[string]any
	ended      bool
	mu         sync.Mutex
	tracer     *Tracer
}

// SetAttribute sets an attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.attributes == nil {
		s.attributes = make(map[string]any)
	}
	s.attributes[key] = value
}

// SetStatus sets the span status.
func (s *Span) SetStatus(status SpanStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.status = status
	s.statusMsg = message
}

// RecordError marks the span failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.SetStatus(SpanStatusError, err.Error())
	s.SetAttribute(AttrErrorMessage, err.Error())
}

// End finishes the span. Ending twice is a no-op.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endTime = time.Now()
	if s.status == SpanStatusUnset {
		s.status = SpanStatusOK
	}
	s.mu.Unlock()

	if s.tracer != nil {
		s.tracer.recordSpan(s)
	}
}

// Duration returns the span duration, or the time elapsed so far.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// ID returns the span ID.
func (s *Span) ID() string {
	return s.id
}

// SpanData is an immutable snapshot of a finished span.
type SpanData struct {
	Name       string
	ID         string
	ParentID   string
	Seq        int64 // creation order within the tracer
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     SpanStatus
	StatusMsg  string
	Attributes map[string]any
}

// ToData converts the span to immutable data.
func (s *Span) ToData() SpanData {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs := make(map[string]any, len(s.attributes))
	for k, v := range s.attributes {
		attrs[k] = v
	}

	return SpanData{
		Name:       s.name,
		ID:         s.id,
		ParentID:   s.parentID,
		Seq:        s.seq,
		StartTime:  s.startTime,
		EndTime:    s.endTime,
		Duration:   s.endTime.Sub(s.startTime),
		Status:     s.status,
		StatusMsg:  s.statusMsg,
		Attributes: attrs,
	}
}

// Tracer creates spans for one run and keeps them once ended.
type Tracer struct {
	traceID   string
	spans     []SpanData
	spanCount int64
	onSpanEnd func(SpanData)
	mu        sync.Mutex
}

// TracerOption configures a tracer.
type TracerOption func(*Tracer)

// WithTraceID fixes the trace ID, normally the run ID.
func WithTraceID(id string) TracerOption {
	return func(t *Tracer) {
		if id != "" {
			t.traceID = id
		}
	}
}

// WithSpanCallback sets a callback for completed spans.
func WithSpanCallback(fn func(SpanData)) TracerOption {
	return func(t *Tracer) {
		t.onSpanEnd = fn
	}
}

// NewTracer creates a tracer with a fresh trace ID.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{traceID: uuid.NewString()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TraceID returns the trace ID shared by every span of the run.
func (t *Tracer) TraceID() string {
	return t.traceID
}

// Start creates and starts a span. The span in ctx, if any, becomes its parent.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, *Span) {
	var parentID string
	if parent := SpanFromContext(ctx); parent != nil {
		parentID = parent.id
	}

	span := &Span{
		name:      name,
		id:        uuid.NewString(),
		parentID:  parentID,
		seq:       atomic.AddInt64(&t.spanCount, 1),
		startTime: time.Now(),
		tracer:    t,
	}

	return contextWithSpan(ctx, span), span
}

func (t *Tracer) recordSpan(s *Span) {
	data := s.ToData()
	if t.onSpanEnd != nil {
		t.onSpanEnd(data)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, data)
}

// Spans returns the finished spans in the order they ended.
func (t *Tracer) Spans() []SpanData {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SpanData, len(t.spans))
	copy(out, t.spans)
	return out
}

// SpanCount returns the total number of spans created.
func (t *Tracer) SpanCount() int64 {
	return atomic.LoadInt64(&t.spanCount)
}

// Timings returns finished spans as stage timings in start order.
func (t *Tracer) Timings() []model.StageTiming {
	spans := t.Spans()
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Seq < spans[j].Seq
	})

	out := make([]model.StageTiming, len(spans))
	for i, s := range spans {
		out[i] = model.StageTiming{
			Stage:    s.Name,
			Duration: s.Duration,
			Failed:   s.Status == SpanStatusError,
		}
	}
	return out
}

type spanContextKey struct{}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanContextKey{}).(*Span); ok {
		return span
	}
	return nil
}

func contextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}
