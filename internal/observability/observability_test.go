package observability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Metrics tests

func TestCounter(t *testing.T) {
	c := &Counter{}
	assert.Equal(t, int64(0), c.Value())

	c.Inc()
	assert.Equal(t, int64(1), c.Value())

	c.Add(5)
	assert.Equal(t, int64(6), c.Value())
}

func TestRegistry_SameKeySameCounter(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x", Labels{"round": "1", "kind": "module"})
	b := r.Counter("x", Labels{"kind": "module", "round": "1"})
	assert.Same(t, a, b)

	a.Inc()
	assert.Equal(t, map[string]int64{"x{kind=module,round=1}": 1}, r.Snapshot())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter("hits", nil).Inc()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), r.Counter("hits", nil).Value())
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordRound("1", 3, 2)
	m.RecordRound("2", 2, 2)
	m.RecordSources(5, 1)
	m.RecordSynthesisFailure()
	m.RecordResolutions(2)
	m.RecordRun(1500 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap["mediate_module_runs_total{round=1}"])
	assert.Equal(t, int64(1), snap["mediate_module_failures_total{round=1}"])
	assert.Equal(t, int64(0), snap["mediate_module_failures_total{round=2}"])
	assert.Equal(t, int64(5), snap[MetricSourcesClaimed])
	assert.Equal(t, int64(1), snap[MetricSourcesDropped])
	assert.Equal(t, int64(1), snap[MetricSynthesisFailed])
	assert.Equal(t, int64(2), snap[MetricResolutions])
	assert.Equal(t, int64(1), snap[MetricRunsTotal])
	assert.Equal(t, int64(1500), snap[MetricRunDuration])
}

// Tracer tests

func TestTracer_ParentAndStatus(t *testing.T) {
	var ended []string
	tr := NewTracer(WithTraceID("run-1"), WithSpanCallback(func(d SpanData) {
		ended = append(ended, d.Name)
	}))
	assert.Equal(t, "run-1", tr.TraceID())

	ctx, run := tr.Start(context.Background(), SpanRun)
	_, r1 := tr.Start(ctx, SpanRound1)
	r1.SetAttribute(AttrModules, 3)
	r1.End()

	_, syn := tr.Start(ctx, SpanSynthesis)
	syn.RecordError(errors.New("timeout"))
	syn.End()
	syn.SetAttribute("late", true)
	syn.End()
	run.End()

	spans := tr.Spans()
	require.Len(t, spans, 3)
	assert.Equal(t, []string{SpanRound1, SpanSynthesis, SpanRun}, ended)

	assert.Equal(t, run.ID(), spans[0].ParentID)
	assert.Equal(t, 3, spans[0].Attributes[AttrModules])
	assert.Equal(t, SpanStatusOK, spans[0].Status)

	assert.Equal(t, SpanStatusError, spans[1].Status)
	assert.Equal(t, "timeout", spans[1].StatusMsg)
	assert.NotContains(t, spans[1].Attributes, "late")

	assert.Empty(t, spans[2].ParentID)
	assert.Equal(t, int64(3), tr.SpanCount())
}

func TestTracer_TimingsInStartOrder(t *testing.T) {
	tr := NewTracer()
	ctx, run := tr.Start(context.Background(), SpanRun)
	_, r1 := tr.Start(ctx, SpanRound1)
	time.Sleep(2 * time.Millisecond)
	r1.End()
	_, syn := tr.Start(ctx, SpanSynthesis)
	syn.RecordError(errors.New("bad json"))
	syn.End()
	run.End()

	timings := tr.Timings()
	require.Len(t, timings, 3)
	assert.Equal(t, SpanRun, timings[0].Stage)
	assert.Equal(t, SpanRound1, timings[1].Stage)
	assert.GreaterOrEqual(t, timings[1].Duration, 2*time.Millisecond)
	assert.Equal(t, SpanSynthesis, timings[2].Stage)
	assert.True(t, timings[2].Failed)
	assert.False(t, timings[0].Failed)
	assert.GreaterOrEqual(t, timings[0].Duration, timings[1].Duration)
}

func TestSpanFromContext(t *testing.T) {
	assert.Nil(t, SpanFromContext(context.Background()))

	tr := NewTracer()
	ctx, span := tr.Start(context.Background(), "x")
	assert.Same(t, span, SpanFromContext(ctx))
	assert.NotEmpty(t, span.ID())
	assert.Greater(t, span.Duration(), time.Duration(-1))
}
