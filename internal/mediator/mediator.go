// Package mediator drives a mediated analysis run: roster resolution, two
// rounds of module analyses, synthesis, citation consolidation and the
// optional deep-research pass.
//
// Analyze always returns a well-formed FinalAnalysis. Module, synthesis and
// research failures are logged and leave their part of the aggregate empty;
// only configuration problems found before dispatch are returned as errors.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rand/mediate/internal/citation"
	"github.com/rand/mediate/internal/dispatch"
	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/observability"
	"github.com/rand/mediate/internal/perspective"
	"github.com/rand/mediate/internal/prompts"
	"github.com/rand/mediate/internal/research"
	"github.com/rand/mediate/internal/search"
)

// Configuration errors.
var (
	ErrInvalidWeight = errors.New("mediator: invalid module weight")
	ErrUnknownModule = errors.New("mediator: unknown module")
	ErrEmptyProblem  = errors.New("mediator: empty problem statement")
	ErrEmptyQuestion = errors.New("mediator: empty follow-up question")
	ErrNoService     = errors.New("mediator: no reasoning service")
)

// Selection bounds.
const (
	MinSelected = 3
	MaxSelected = 7
	MaxAdHoc    = 3
)

// Mediator runs analyses. It holds read-only configuration and may be used
// for several runs.
type Mediator struct {
	svc          llm.Service
	weights      map[string]float64
	raci         model.RACIMatrix
	roster       []string
	autoSelect   bool
	deepResearch bool
	searcher     search.Provider
	dispatcher   *dispatch.Dispatcher
	resolver     *research.Resolver
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// New validates the configuration and returns a Mediator.
func New(svc llm.Service, opts ...Option) (*Mediator, error) {
	if svc == nil {
		return nil, ErrNoService
	}

	m := &Mediator{
		svc:     svc,
		weights: map[string]float64{},
		roster:  append([]string(nil), perspective.DefaultRoster...),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	if m.dispatcher == nil {
		var conv llm.Conversational
		if c, ok := svc.(llm.Conversational); ok {
			conv = c
		}
		m.dispatcher = dispatch.New(conv, dispatch.WithLogger(m.logger))
	}
	if m.resolver == nil {
		m.resolver = research.New(svc, research.WithSearcher(m.searcher), research.WithLogger(m.logger))
	}
	m.metrics = observability.NewMetrics(nil)
	return m, nil
}

func (m *Mediator) validate() error {
	for name, w := range m.weights {
		if !perspective.IsKnown(name) {
			return fmt.Errorf("%w: weight for %q", ErrUnknownModule, name)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, name, w)
		}
	}

	if len(m.roster) == 0 {
		return fmt.Errorf("%w: empty roster", ErrUnknownModule)
	}
	seen := make(map[string]bool, len(m.roster))
	for _, name := range m.roster {
		if !perspective.IsKnown(name) || seen[name] {
			return fmt.Errorf("%w: roster entry %q", ErrUnknownModule, name)
		}
		seen[name] = true
	}
	return nil
}

// Metrics returns the run counters.
func (m *Mediator) Metrics() *observability.Metrics {
	return m.metrics
}

// Analyze runs the full pipeline for problem.
func (m *Mediator) Analyze(ctx context.Context, problem string) (model.FinalAnalysis, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return model.FinalAnalysis{}, ErrEmptyProblem
	}

	start := time.Now()
	runID := uuid.NewString()
	tracer := observability.NewTracer(observability.WithTraceID(runID))
	ctx, runSpan := tracer.Start(ctx, observability.SpanRun)

	var before llm.Usage
	reporter, hasUsage := m.svc.(llm.UsageReporter)
	if hasUsage {
		before = reporter.Usage()
	}

	fa := model.NewFinalAnalysis(problem)
	fa.RunID = runID
	fa.StartedAt = start
	for topic, role := range m.raci {
		fa.RACIMatrix[topic] = role
	}

	logger := m.logger.With("run_id", runID)
	logger.Info("analysis starting", "auto_select", m.autoSelect, "deep_research", m.deepResearch, "grounded", m.searcher != nil)

	m.run(ctx, tracer, logger, &fa)

	runSpan.End()
	if hasUsage {
		fa.Usage = usageSince(before, reporter.Usage())
	}
	fa.Timings = tracer.Timings()
	fa.Duration = time.Since(start)
	m.metrics.RecordRun(fa.Duration)

	logger.Info("analysis complete",
		"modules", len(fa.ActiveModules),
		"outputs", len(fa.ModuleOutputs),
		"sources", len(fa.Sources),
		"dropped_sources", fa.DroppedSourceCount,
		"resolutions", len(fa.ConflictResolutions),
		"duration", fa.Duration)
	return fa, nil
}

// run fills fa stage by stage. It returns early when a stage leaves nothing
// for the next one.
func (m *Mediator) run(ctx context.Context, tracer *observability.Tracer, logger *slog.Logger, fa *model.FinalAnalysis) {
	names, adHoc := m.roster, []model.AdHocModule(nil)
	if m.autoSelect {
		_, span := tracer.Start(ctx, observability.SpanSelection)
		var meta model.SelectionMetadata
		names, adHoc, meta = m.selectModules(ctx, logger, fa.Problem)
		fa.SelectionMetadata = &meta
		span.SetAttribute(observability.AttrModules, len(names)+len(adHoc))
		span.End()
	}

	active, deactivated := m.veto(names)
	fa.DeactivatedModules = deactivated

	reg, accepted, err := perspective.Build(active, adHoc, m.svc, logger)
	if err != nil {
		// Selection output is sanitised and the static roster validated in
		// New, so this is unreachable short of a catalog change.
		logger.Error("building roster", "error", err)
		return
	}
	fa.ActiveModules = reg.Names()
	if fa.SelectionMetadata != nil {
		fa.SelectionMetadata.AdHocModules = accepted
	}
	if len(deactivated) > 0 {
		logger.Info("modules deactivated by weight", "modules", deactivated)
	}
	if reg.Len() == 0 {
		logger.Warn("no active modules")
		m.finishDisclaimer(fa)
		return
	}

	round1 := m.runRound(ctx, tracer, logger, observability.SpanRound1, dispatch.Round{
		Number:   1,
		Problem:  fa.Problem,
		Roster:   reg,
		Searcher: m.searcher,
	})
	if len(round1) == 0 {
		logger.Warn("no module survived round 1, skipping synthesis")
		m.finishDisclaimer(fa)
		return
	}

	survivors := make([]string, len(round1))
	for i, o := range round1 {
		survivors[i] = o.ModuleName
	}
	round2 := m.runRound(ctx, tracer, logger, observability.SpanRound2, dispatch.Round{
		Number:   2,
		Problem:  fa.Problem,
		Roster:   reg.Subset(survivors),
		Peers:    round1,
		Searcher: m.searcher,
	})

	outputs := make([]model.ModuleOutput, 0, len(round1)+len(round2))
	outputs = append(outputs, round1...)
	outputs = append(outputs, round2...)

	premerged := citation.Premerge(outputs)
	syn := m.synthesize(ctx, tracer, logger, fa, outputs, premerged)

	_, span := tracer.Start(ctx, observability.SpanConsolidate)
	if len(syn.Sources) > 0 {
		logger.Warn("synthesis returned sources despite the consolidated list; merging them", "count", len(syn.Sources))
	}
	res := citation.Consolidate(outputs, syn, citation.NewIndex())
	span.SetAttribute(observability.AttrSources, res.Index.Len())
	span.SetAttribute(observability.AttrDropped, len(res.Dropped))
	span.End()
	for _, d := range res.Dropped {
		logger.Warn("dropping source without URL", "source", d)
	}

	fa.ModuleOutputs = res.Outputs
	fa.Synthesis = res.Synthesis.Synthesis
	fa.Conflicts = res.Synthesis.Conflicts
	fa.Recommendations = res.Synthesis.Recommendations
	fa.PriorityFlags = res.Synthesis.PriorityFlags
	fa.DeactivatedDisclaimer = res.Synthesis.Disclaimer
	fa.Sources = res.Index.Sources()
	fa.ClaimedSourceCount = res.Claimed
	fa.DroppedSourceCount = len(res.Dropped)
	m.finishDisclaimer(fa)

	if m.deepResearch {
		_, span := tracer.Start(ctx, observability.SpanResearch)
		outcome := m.resolver.Resolve(ctx, *fa, res.Index)
		span.SetAttribute(observability.AttrItems, len(outcome.Resolutions))
		span.End()

		fa.ConflictResolutions = outcome.Resolutions
		fa.Sources = outcome.Index.Sources()
		fa.ClaimedSourceCount += outcome.Claimed
		fa.DroppedSourceCount += len(outcome.Dropped)
		m.metrics.RecordResolutions(len(outcome.Resolutions))
		for _, d := range outcome.Dropped {
			logger.Warn("dropping resolution source without URL", "source", d)
		}
	}
	m.metrics.RecordSources(fa.ClaimedSourceCount, fa.DroppedSourceCount)
}

func (m *Mediator) runRound(ctx context.Context, tracer *observability.Tracer, logger *slog.Logger, stage string, r dispatch.Round) []model.ModuleOutput {
	_, span := tracer.Start(ctx, stage)
	defer span.End()
	span.SetAttribute(observability.AttrModules, r.Roster.Len())

	outputs, err := m.dispatcher.Run(ctx, r)
	if err != nil {
		logger.Error("round dispatch failed", "round", r.Number, "error", err)
		span.RecordError(err)
		outputs = nil
	}
	span.SetAttribute(observability.AttrSucceeded, len(outputs))
	m.metrics.RecordRound(fmt.Sprint(r.Number), r.Roster.Len(), len(outputs))
	return outputs
}

// veto removes weight-0 modules from names, keeping order.
func (m *Mediator) veto(names []string) (active, deactivated []string) {
	active = make([]string, 0, len(names))
	deactivated = []string{}
	for _, n := range names {
		if w, ok := m.weights[n]; ok && w == 0 {
			deactivated = append(deactivated, n)
			continue
		}
		active = append(active, n)
	}
	return active, deactivated
}

// finishDisclaimer writes a default disclaimer when modules were vetoed and
// synthesis did not provide one.
func (m *Mediator) finishDisclaimer(fa *model.FinalAnalysis) {
	if len(fa.DeactivatedModules) == 0 || strings.TrimSpace(fa.DeactivatedDisclaimer) != "" {
		return
	}
	fa.DeactivatedDisclaimer = fmt.Sprintf(
		"The following modules were deactivated by the user and their perspectives are not reflected in this analysis: %s.",
		strings.Join(fa.DeactivatedModules, ", "))
}

func usageSince(before, after llm.Usage) llm.Usage {
	return llm.Usage{
		AnalyzeInput:       after.AnalyzeInput - before.AnalyzeInput,
		AnalyzeOutput:      after.AnalyzeOutput - before.AnalyzeOutput,
		ChatInput:          after.ChatInput - before.ChatInput,
		ChatOutput:         after.ChatOutput - before.ChatOutput,
		OrchestratorInput:  after.OrchestratorInput - before.OrchestratorInput,
		OrchestratorOutput: after.OrchestratorOutput - before.OrchestratorOutput,
	}
}

// Followup answers a question about a finished analysis without re-running
// any module.
func (m *Mediator) Followup(ctx context.Context, fa model.FinalAnalysis, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	system, user := prompts.Followup(fa, question)
	answer, err := m.svc.Chat(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("follow-up: %w", err)
	}
	return answer, nil
}
