package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/mediate/internal/dispatch"
	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/llm/llmtest"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/observability"
	"github.com/rand/mediate/internal/perspective"
)

// script routes Analyze calls by the kind of prompt they carry.
type script struct {
	mu sync.Mutex

	module     func(name string, round int) (string, error)
	selection  func() (string, error)
	gapCheck   func() (string, error)
	synthesis  func(user string) (string, error)
	resolution func(user string) (string, error)

	synthesisPrompts []string
}

func (s *script) analyze(_ context.Context, system, user string) (llm.Document, error) {
	var (
		raw string
		err error
	)
	switch {
	case strings.Contains(system, "scoping multi-perspective analyses"):
		raw, err = call(s.selection)
	case strings.Contains(system, "analytical blind spots"):
		raw, err = call(s.gapCheck)
	case strings.Contains(system, "synthesizing multiple expert analyses"):
		s.mu.Lock()
		s.synthesisPrompts = append(s.synthesisPrompts, user)
		s.mu.Unlock()
		if s.synthesis == nil {
			return llm.Document{}, llmtest.ErrNotScripted
		}
		raw, err = s.synthesis(user)
	case strings.Contains(system, "resolving specific conflicts"):
		if s.resolution == nil {
			return llm.Document{}, llmtest.ErrNotScripted
		}
		raw, err = s.resolution(user)
	default:
		name, round := moduleOf(system)
		if name == "" || s.module == nil {
			return llm.Document{}, llmtest.ErrNotScripted
		}
		raw, err = s.module(name, round)
	}
	if err != nil {
		return llm.Document{}, err
	}
	return llm.NewDocument(raw)
}

func call(fn func() (string, error)) (string, error) {
	if fn == nil {
		return "", llmtest.ErrNotScripted
	}
	return fn()
}

func moduleOf(system string) (string, int) {
	for _, def := range perspective.Catalog() {
		if strings.HasPrefix(system, def.SystemPrompt) {
			if strings.Contains(system, "Round 2") {
				return def.Name, 2
			}
			return def.Name, 1
		}
	}
	if strings.HasPrefix(system, "You are a logistics expert.") {
		if strings.Contains(system, "Round 2") {
			return "supply_chain", 2
		}
		return "supply_chain", 1
	}
	return "", 0
}

// callEveryModule plays the orchestrating model: it requests every module
// in the tool's enum on the first turn and stops once results come back.
func callEveryModule(_ context.Context, conv []llm.Message, tools []llm.Tool) (llm.Reply, error) {
	if conv[len(conv)-1].Role == llm.RoleTool {
		return llm.Reply{Text: "done"}, nil
	}
	props := tools[0].Schema["properties"].(map[string]any)
	enum := props["module_name"].(map[string]any)["enum"].([]any)

	calls := make([]llm.ToolCall, len(enum))
	for i := len(enum) - 1; i >= 0; i-- {
		calls[i] = llm.ToolCall{
			ID:    fmt.Sprintf("call_%d", i),
			Name:  dispatch.ToolName,
			Input: fmt.Sprintf(`{"module_name": %q}`, enum[len(enum)-1-i]),
		}
	}
	return llm.Reply{ToolCalls: calls}, nil
}

func newFake(s *script) *llmtest.Fake {
	return &llmtest.Fake{AnalyzeFunc: s.analyze, ConverseFunc: callEveryModule}
}

func simpleModule(name string, round int) (string, error) {
	return fmt.Sprintf(`{"analysis": {"summary": "%s round %d view"}, "flags": [], "sources": []}`, name, round), nil
}

func stages(fa model.FinalAnalysis) []string {
	var out []string
	for _, t := range fa.Timings {
		out = append(out, t.Stage)
	}
	return out
}

func outputKeys(fa model.FinalAnalysis) []string {
	var out []string
	for _, o := range fa.ModuleOutputs {
		out = append(out, fmt.Sprintf("%s/%d", o.ModuleName, o.Round))
	}
	return out
}

func TestAnalyze_FullRun(t *testing.T) {
	s := &script{
		module: func(name string, round int) (string, error) {
			switch name {
			case "market":
				return `{"analysis": {"summary": "Demand is strong [1]", "key_findings": ["k1 [1]"]},
					"flags": ["green: demand [1]"], "sources": ["1. A — https://x.com/1"]}`, nil
			case "cost":
				return `{"analysis": {"summary": "Costs are fine [1], fabricated [2]"},
					"flags": ["yellow: capex [2]"], "sources": ["1. B — https://x.com/1", "2. Imaginary Journal"]}`, nil
			}
			return simpleModule(name, round)
		},
		synthesis: func(string) (string, error) {
			return `{
				"synthesis": "Go ahead [1], ignoring [9]",
				"conflicts": [{"modules": ["market", "cost"], "topic": "capex", "description": "tension [1]", "severity": "HIGH"}],
				"recommendations": ["start small [1]"],
				"priority_flags": ["yellow: capex"],
				"sources": []
			}`, nil
		},
	}

	m, err := New(newFake(s))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "  Launch a coffee subscription  ")
	require.NoError(t, err)

	assert.Equal(t, "Launch a coffee subscription", fa.Problem)
	assert.NotEmpty(t, fa.RunID)
	assert.Equal(t, []string{"market", "cost", "risk"}, fa.ActiveModules)
	assert.Equal(t, []string{"market/1", "cost/1", "risk/1", "market/2", "cost/2", "risk/2"}, outputKeys(fa))

	assert.Equal(t, []string{"A — https://x.com/1"}, fa.Sources)
	assert.Equal(t, "Demand is strong [1]", fa.ModuleOutputs[0].Analysis.Summary())
	assert.Equal(t, "Costs are fine [1], fabricated", fa.ModuleOutputs[1].Analysis.Summary())
	assert.Equal(t, []string{"yellow: capex"}, fa.ModuleOutputs[1].Flags)
	for _, o := range fa.ModuleOutputs {
		assert.Empty(t, o.Sources, o.ModuleName)
	}
	assert.Equal(t, 6, fa.ClaimedSourceCount)
	assert.Equal(t, 2, fa.DroppedSourceCount)

	assert.Equal(t, "Go ahead [1], ignoring", fa.Synthesis)
	require.Len(t, fa.Conflicts, 1)
	assert.Equal(t, model.SeverityHigh, fa.Conflicts[0].Severity)
	assert.Equal(t, []string{"start small [1]"}, fa.Recommendations)
	assert.Empty(t, fa.DeactivatedDisclaimer)
	assert.Empty(t, fa.ConflictResolutions)

	require.Len(t, s.synthesisPrompts, 1)
	assert.Contains(t, s.synthesisPrompts[0], "[1] A — https://x.com/1")
	assert.Contains(t, s.synthesisPrompts[0], `"sources": []`)

	assert.Equal(t, []string{"mediate.run", "round1", "round2", "synthesis", "consolidate"}, stages(fa))

	snap := m.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap[observability.MetricRunsTotal])
	assert.Equal(t, int64(3), snap["mediate_module_runs_total{round=2}"])
}

func TestAnalyze_RoundGating(t *testing.T) {
	s := &script{
		module: func(name string, round int) (string, error) {
			if name == "cost" {
				return "", errors.New("cost module crashed")
			}
			return simpleModule(name, round)
		},
		synthesis: func(string) (string, error) { return `{"synthesis": "ok"}`, nil },
	}
	svc := newFake(s)
	m, err := New(svc)
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	assert.Equal(t, []string{"market/1", "risk/1", "market/2", "risk/2"}, outputKeys(fa))
	assert.Equal(t, 1, svc.CountWhere("analyze", "You are a financial analysis expert"), "cost runs once, in round 1 only")
	assert.Equal(t, "ok", fa.Synthesis)
}

func TestAnalyze_WeightVetoAfterSelection(t *testing.T) {
	s := &script{
		selection: func() (string, error) {
			return `{"selected_modules": ["market", "cost", "legal", "astrology", "market"], "reasoning": "fits"}`, nil
		},
		gapCheck: func() (string, error) {
			return `{"gaps_identified": false, "reasoning": "covered", "ad_hoc_modules": []}`, nil
		},
		module:    simpleModule,
		synthesis: func(string) (string, error) { return `{"synthesis": "done", "deactivated_disclaimer": ""}`, nil },
	}
	svc := newFake(s)
	m, err := New(svc, WithAutoSelect(true), WithWeights(map[string]float64{"cost": 0, "market": 2}))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	require.NotNil(t, fa.SelectionMetadata)
	assert.True(t, fa.SelectionMetadata.AutoSelected)
	assert.Equal(t, []string{"market", "cost", "legal"}, fa.SelectionMetadata.SelectedModules)
	assert.Equal(t, "fits", fa.SelectionMetadata.SelectionReasoning)
	assert.Equal(t, "covered", fa.SelectionMetadata.GapCheckReasoning)

	assert.Equal(t, []string{"market", "legal"}, fa.ActiveModules)
	assert.Equal(t, []string{"cost"}, fa.DeactivatedModules)
	assert.Contains(t, fa.DeactivatedDisclaimer, "cost")
	assert.Zero(t, svc.CountWhere("analyze", "You are a financial analysis expert"))

	require.Len(t, s.synthesisPrompts, 1)
	assert.Contains(t, s.synthesisPrompts[0], "deactivated by the user: cost")
	assert.Contains(t, s.synthesisPrompts[0], "(Weight: 2x)")
	assert.Equal(t, "selection", stages(fa)[1])
}

func TestAnalyze_SynthesisDisclaimerWins(t *testing.T) {
	s := &script{
		module:    simpleModule,
		synthesis: func(string) (string, error) { return `{"synthesis": "x", "deactivated_disclaimer": "Risk was switched off."}`, nil },
	}
	m, err := New(newFake(s), WithWeights(map[string]float64{"risk": 0}))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "Risk was switched off.", fa.DeactivatedDisclaimer)
	assert.Equal(t, []string{"market", "cost"}, fa.ActiveModules)
}

func TestAnalyze_TotalFailure(t *testing.T) {
	s := &script{
		module: func(string, int) (string, error) { return "", errors.New("service down") },
	}
	svc := newFake(s)
	m, err := New(svc, WithDeepResearch(true))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "X")
	require.NoError(t, err)

	assert.Equal(t, "X", fa.Problem)
	assert.Empty(t, fa.ModuleOutputs)
	assert.Equal(t, "", fa.Synthesis)
	assert.Empty(t, s.synthesisPrompts)
	assert.Zero(t, svc.CountWhere("analyze", "resolving specific conflicts"))

	raw, err := json.Marshal(fa)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"module_outputs":[]`)
	assert.Contains(t, string(raw), `"synthesis":""`)
	assert.Contains(t, string(raw), `"sources":[]`)
}

func TestAnalyze_DispatchExchangeFailure(t *testing.T) {
	s := &script{module: simpleModule}
	svc := &llmtest.Fake{
		AnalyzeFunc: s.analyze,
		ConverseFunc: func(context.Context, []llm.Message, []llm.Tool) (llm.Reply, error) {
			return llm.Reply{}, errors.New("orchestrator unavailable")
		},
	}
	m, err := New(svc)
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "X")
	require.NoError(t, err)
	assert.Empty(t, fa.ModuleOutputs)
	require.NotEmpty(t, fa.Timings)
	assert.True(t, fa.Timings[1].Failed)
}

func TestAnalyze_SynthesisFailureKeepsOutputs(t *testing.T) {
	s := &script{
		module: func(name string, round int) (string, error) {
			return fmt.Sprintf(`{"analysis": {"summary": "%s [2]"}, "sources": ["only — https://o.com/%s"]}`, name, name), nil
		},
		synthesis: func(string) (string, error) { return "", errors.New("context length exceeded") },
	}
	m, err := New(newFake(s), WithRoster("market", "cost"))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	require.Len(t, fa.ModuleOutputs, 4)
	assert.Equal(t, "market", fa.ModuleOutputs[0].Analysis.Summary())
	assert.Equal(t, []string{"only — https://o.com/market", "only — https://o.com/cost"}, fa.Sources)
	assert.Empty(t, fa.Synthesis)
	assert.NotNil(t, fa.Conflicts)
	assert.NotNil(t, fa.Recommendations)

	var failed []string
	for _, st := range fa.Timings {
		if st.Failed {
			failed = append(failed, st.Stage)
		}
	}
	assert.Equal(t, []string{"synthesis"}, failed)
}

func TestAnalyze_DeepResearchExtendsIndex(t *testing.T) {
	s := &script{
		module: func(name string, round int) (string, error) {
			if name == "market" {
				return `{"analysis": {"summary": "m [1]"}, "sources": ["M — https://m.com"]}`, nil
			}
			return simpleModule(name, round)
		},
		synthesis: func(string) (string, error) {
			return `{"synthesis": "s [1]",
				"conflicts": [
					{"modules": ["market", "cost"], "topic": "pricing", "description": "d [1]", "severity": "critical"},
					{"modules": ["risk"], "topic": "minor", "description": "", "severity": "low"}
				],
				"priority_flags": ["red: pricing war", "red: supplier lock-in"]}`, nil
		},
		resolution: func(user string) (string, error) {
			if strings.Contains(user, "supplier lock-in") {
				return `{"verdict": "diversify [1]", "updated_recommendation": "two suppliers [2]",
					"sources": ["S — https://s.com", "M again — https://m.com"]}`, nil
			}
			return `{"verdict": "price mid [1]", "updated_recommendation": "test [3]", "sources": ["P — https://p.com"]}`, nil
		},
	}
	m, err := New(newFake(s), WithDeepResearch(true))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	require.Len(t, fa.ConflictResolutions, 2)
	assert.Equal(t, "pricing", fa.ConflictResolutions[0].Topic)
	assert.Equal(t, "price mid [2]", fa.ConflictResolutions[0].Verdict)
	assert.Equal(t, "test", fa.ConflictResolutions[0].UpdatedRecommendation)
	assert.Equal(t, "supplier lock-in", fa.ConflictResolutions[1].Topic)
	assert.Equal(t, model.SeverityCritical, fa.ConflictResolutions[1].Severity)
	assert.Equal(t, "diversify [3]", fa.ConflictResolutions[1].Verdict)
	assert.Equal(t, "two suppliers [1]", fa.ConflictResolutions[1].UpdatedRecommendation)

	assert.Equal(t, []string{"M — https://m.com", "P — https://p.com", "S — https://s.com"}, fa.Sources)
	assert.Contains(t, stages(fa), "deep_research")
}

func TestAnalyze_SelectionFallbackAndAdHoc(t *testing.T) {
	s := &script{
		selection: func() (string, error) { return "", errors.New("timeout") },
		gapCheck: func() (string, error) {
			return `{"gaps_identified": true, "reasoning": "logistics missing", "ad_hoc_modules": [
				{"name": "supply_chain", "system_prompt": "You are a logistics expert."},
				{"name": "market", "system_prompt": "shadow"},
				{"name": "Bad Name", "system_prompt": "x"}
			]}`, nil
		},
		module:    simpleModule,
		synthesis: func(string) (string, error) { return `{"synthesis": "ok"}`, nil },
	}
	svc := newFake(s)
	m, err := New(svc, WithAutoSelect(true))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	require.NotNil(t, fa.SelectionMetadata)
	assert.False(t, fa.SelectionMetadata.AutoSelected)
	assert.Equal(t, []string{"market", "cost", "risk"}, fa.SelectionMetadata.SelectedModules)
	assert.Equal(t, []model.AdHocModule{{Name: "supply_chain", SystemPrompt: "You are a logistics expert."}}, fa.SelectionMetadata.AdHocModules)
	assert.Equal(t, []string{"market", "cost", "risk", "supply_chain"}, fa.ActiveModules)
	assert.Contains(t, outputKeys(fa), "supply_chain/2")
}

func TestAnalyze_AdHocShadowingSelectedModuleIsNotReported(t *testing.T) {
	s := &script{
		selection: func() (string, error) { return `{"selected_modules": ["tech", "legal", "ethics"]}`, nil },
		gapCheck: func() (string, error) {
			return `{"ad_hoc_modules": [{"name": "legal", "system_prompt": "impostor prompt"}]}`, nil
		},
		module:    simpleModule,
		synthesis: func(string) (string, error) { return `{"synthesis": "ok"}`, nil },
	}
	svc := newFake(s)
	m, err := New(svc, WithAutoSelect(true))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	assert.Equal(t, []string{"tech", "legal", "ethics"}, fa.ActiveModules)
	assert.Empty(t, fa.SelectionMetadata.AdHocModules)
	assert.Zero(t, svc.CountWhere("analyze", "impostor prompt"))
}

func TestAnalyze_ShortSelectionIsToppedUp(t *testing.T) {
	s := &script{
		selection: func() (string, error) { return `{"selected_modules": ["tech", "astrology", "risk"]}`, nil },
		gapCheck:  func() (string, error) { return `{"ad_hoc_modules": []}`, nil },
		module:    simpleModule,
		synthesis: func(string) (string, error) { return `{"synthesis": "ok"}`, nil },
	}
	m, err := New(newFake(s), WithAutoSelect(true))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	assert.True(t, fa.SelectionMetadata.AutoSelected)
	assert.Equal(t, []string{"tech", "risk", "market"}, fa.SelectionMetadata.SelectedModules)
	assert.Equal(t, []string{"tech", "risk", "market"}, fa.ActiveModules)
}

func TestTopUp(t *testing.T) {
	roster := []string{"market", "cost", "risk"}
	assert.Equal(t, []string{"tech", "market", "cost"}, topUp([]string{"tech"}, roster, 3))
	assert.Equal(t, []string{"cost", "market", "risk"}, topUp([]string{"cost"}, roster, 3))
	assert.Equal(t, []string{"a", "b", "c"}, topUp([]string{"a", "b", "c"}, roster, 3))
	assert.Equal(t, []string{"market", "cost"}, topUp([]string{"market"}, []string{"market", "cost"}, 3))
}

func TestAnalyze_GapCheckFailureKeepsSelection(t *testing.T) {
	s := &script{
		selection: func() (string, error) { return `{"selected_modules": ["tech", "legal", "ethics"]}`, nil },
		gapCheck:  func() (string, error) { return "", errors.New("boom") },
		module:    simpleModule,
		synthesis: func(string) (string, error) { return `{"synthesis": "ok"}`, nil },
	}
	m, err := New(newFake(s), WithAutoSelect(true))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"tech", "legal", "ethics"}, fa.ActiveModules)
	assert.Empty(t, fa.SelectionMetadata.AdHocModules)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	svc := &llmtest.Fake{}

	_, err := New(svc, WithWeights(map[string]float64{"cost": -1}))
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = New(svc, WithWeights(map[string]float64{"astrology": 1}))
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, err = New(svc, WithRoster("market", "market"))
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, err = New(svc, WithRoster())
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrNoService)

	m, err := New(svc)
	require.NoError(t, err)
	_, err = m.Analyze(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyProblem)
	assert.Empty(t, svc.Calls())
}

func TestAnalyze_AllModulesVetoed(t *testing.T) {
	svc := &llmtest.Fake{}
	m, err := New(svc, WithRoster("market"), WithWeights(map[string]float64{"market": 0}))
	require.NoError(t, err)

	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, fa.ActiveModules)
	assert.Equal(t, []string{"market"}, fa.DeactivatedModules)
	assert.Contains(t, fa.DeactivatedDisclaimer, "market")
	assert.Empty(t, svc.Calls())
}

func TestFollowup(t *testing.T) {
	var gotUser string
	svc := &llmtest.Fake{ChatFunc: func(_ context.Context, _, user string) (string, error) {
		gotUser = user
		return "Price at $25.", nil
	}}
	m, err := New(svc)
	require.NoError(t, err)

	fa := model.NewFinalAnalysis("coffee")
	fa.Synthesis = "go"
	answer, err := m.Followup(context.Background(), fa, "what price?")
	require.NoError(t, err)
	assert.Equal(t, "Price at $25.", answer)
	assert.Contains(t, gotUser, "what price?")
	assert.Len(t, svc.Calls(), 1)

	_, err = m.Followup(context.Background(), fa, " ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

type meteredFake struct {
	*llmtest.Fake
	mu    sync.Mutex
	usage llm.Usage
}

func (f *meteredFake) Analyze(ctx context.Context, system, user string) (llm.Document, error) {
	f.mu.Lock()
	f.usage.AnalyzeInput += 10
	f.usage.AnalyzeOutput += 5
	f.mu.Unlock()
	return f.Fake.Analyze(ctx, system, user)
}

func (f *meteredFake) Usage() llm.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage
}

func TestAnalyze_UsageIsPerRun(t *testing.T) {
	s := &script{module: simpleModule, synthesis: func(string) (string, error) { return `{"synthesis": "ok"}`, nil }}
	svc := &meteredFake{Fake: newFake(s), usage: llm.Usage{AnalyzeInput: 1000}}

	m, err := New(svc, WithRoster("market"))
	require.NoError(t, err)
	fa, err := m.Analyze(context.Background(), "p")
	require.NoError(t, err)

	// round 1, round 2, synthesis
	assert.Equal(t, int64(30), fa.Usage.AnalyzeInput)
	assert.Equal(t, int64(15), fa.Usage.AnalyzeOutput)
}
