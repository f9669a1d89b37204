package mediator

import (
	"context"
	"log/slog"

	"github.com/rand/mediate/internal/citation"
	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/observability"
	"github.com/rand/mediate/internal/prompts"
)

// synthesize runs the synthesis call over every surviving output. On failure
// the returned fields are empty and the module outputs stand on their own.
func (m *Mediator) synthesize(ctx context.Context, tracer *observability.Tracer, logger *slog.Logger, fa *model.FinalAnalysis, outputs []model.ModuleOutput, premerged citation.Index) citation.SynthesisFields {
	_, span := tracer.Start(ctx, observability.SpanSynthesis)
	defer span.End()

	system, user := prompts.Synthesis(prompts.SynthesisInput{
		Problem:       fa.Problem,
		Outputs:       outputs,
		Weights:       m.weights,
		Deactivated:   fa.DeactivatedModules,
		RACI:          fa.RACIMatrix,
		GlobalSources: premerged.Sources(),
	})

	doc, err := m.svc.Analyze(ctx, system, user)
	if err != nil {
		logger.Error("synthesis failed", "error", err)
		span.RecordError(err)
		m.metrics.RecordSynthesisFailure()
		return emptySynthesis()
	}
	return decodeSynthesis(doc)
}

func emptySynthesis() citation.SynthesisFields {
	return citation.SynthesisFields{
		Conflicts:       []model.Conflict{},
		Recommendations: []string{},
		PriorityFlags:   []string{},
		Sources:         []string{},
	}
}

func decodeSynthesis(doc llm.Document) citation.SynthesisFields {
	syn := emptySynthesis()
	syn.Synthesis = doc.String("synthesis")
	syn.Recommendations = doc.Strings("recommendations")
	syn.PriorityFlags = doc.Strings("priority_flags")
	syn.Disclaimer = doc.String("deactivated_disclaimer")
	syn.Sources = doc.Strings("sources")

	for _, c := range doc.Get("conflicts").Array() {
		if !c.IsObject() {
			continue
		}
		modules := []string{}
		for _, name := range c.Get("modules").Array() {
			modules = append(modules, name.String())
		}
		syn.Conflicts = append(syn.Conflicts, model.Conflict{
			Modules:     modules,
			Topic:       c.Get("topic").String(),
			Description: c.Get("description").String(),
			Severity:    model.ParseSeverity(c.Get("severity").String()),
		})
	}
	return syn
}
