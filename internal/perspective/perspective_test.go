package perspective

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/llm/llmtest"
	"github.com/rand/mediate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	names := Names()
	assert.Len(t, names, 12)
	assert.Equal(t, "cost", names[0])
	assert.True(t, IsKnown("ethics"))
	assert.False(t, IsKnown("astrology"))

	for _, n := range DefaultRoster {
		assert.True(t, IsKnown(n), n)
		assert.True(t, IsDefault(n), n)
	}
	assert.False(t, IsDefault("legal"))

	for _, d := range Catalog() {
		assert.NotEmpty(t, d.Description, d.Name)
		assert.True(t, strings.HasSuffix(d.SystemPrompt, "no other text."), d.Name)
	}
	assert.Len(t, PoolEntries(), 12)
}

func TestSuggest(t *testing.T) {
	assert.Equal(t, "environmental", Suggest("env"))
	assert.Equal(t, "strategy", Suggest(" STRAT "))
	assert.Empty(t, Suggest("zzz"))
	assert.Empty(t, Suggest(""))
}

func TestModule_RunRounds(t *testing.T) {
	svc := &llmtest.Fake{AnalyzeFunc: llmtest.JSON(`{
		"analysis": {"summary": "Demand is strong [1]", "key_findings": ["a [1]", "b"]},
		"flags": ["green: demand"],
		"sources": ["1. Report — https://x.com/1"]
	}`)}

	m, err := New("market", svc, nil)
	require.NoError(t, err)
	assert.Equal(t, "market", m.Name())

	out, err := m.RunRound1(context.Background(), "coffee", nil)
	require.NoError(t, err)
	assert.Equal(t, "market", out.ModuleName)
	assert.Equal(t, 1, out.Round)
	assert.False(t, out.Revised)
	assert.Equal(t, "Demand is strong [1]", out.Analysis.Summary())
	assert.Equal(t, []string{"a [1]", "b"}, out.KeyFindings())
	assert.Equal(t, []string{"green: demand"}, out.Flags)
	assert.Equal(t, []string{"1. Report — https://x.com/1"}, out.Sources)

	peers := []model.ModuleOutput{out, model.NewModuleOutput("cost", 1, model.NewAnalysis(), nil, nil)}
	out2, err := m.RunRound2(context.Background(), "coffee", peers, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out2.Round)
	assert.True(t, out2.Revised)

	calls := svc.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].System, "Round 2")
	assert.Contains(t, calls[1].User, "COST MODULE")
	assert.NotContains(t, calls[1].User, "MARKET MODULE")
}

func TestModule_PropagatesServiceError(t *testing.T) {
	svc := &llmtest.Fake{AnalyzeFunc: func(context.Context, string, string) (llm.Document, error) {
		return llm.Document{}, errors.New("overloaded")
	}}
	m, err := New("risk", svc, nil)
	require.NoError(t, err)

	_, err = m.RunRound1(context.Background(), "p", nil)
	assert.ErrorContains(t, err, "risk round 1")
}

func TestDecodeOutput_Degraded(t *testing.T) {
	t.Run("no analysis key", func(t *testing.T) {
		doc := llm.MustDocument(`{"summary": "flat", "risks": ["r1"], "flags": ["red: x"], "sources": []}`)
		out := DecodeOutput("risk", 1, doc)
		assert.Equal(t, []string{"summary", "risks"}, out.Analysis.Keys())
		assert.Equal(t, "flat", out.Analysis.Summary())
		assert.Equal(t, []string{"red: x"}, out.Flags)
		assert.NotNil(t, out.Sources)
	})

	t.Run("analysis is a string", func(t *testing.T) {
		out := DecodeOutput("cost", 2, llm.MustDocument(`{"analysis": "just text"}`))
		assert.Equal(t, "just text", out.Analysis.Summary())
		assert.True(t, out.Revised)
	})

	t.Run("non-string values", func(t *testing.T) {
		out := DecodeOutput("cost", 1, llm.MustDocument(`{"analysis": {"summary": "s", "score": 7, "detail": {"k": 1}}}`))
		score, ok := out.Analysis.Get("score")
		require.True(t, ok)
		assert.Equal(t, "7", score.Text)
		detail, _ := out.Analysis.Get("detail")
		assert.Equal(t, `{"k":1}`, detail.Text)
	})

	t.Run("empty document", func(t *testing.T) {
		out := DecodeOutput("cost", 1, llm.MustDocument(`{}`))
		assert.Equal(t, 0, out.Analysis.Len())
		assert.NotNil(t, out.Flags)
		assert.NotNil(t, out.Sources)
	})
}

func TestNewDynamic(t *testing.T) {
	svc := &llmtest.Fake{}

	m, err := NewDynamic(model.AdHocModule{Name: "supply_chain", SystemPrompt: "You are a logistics expert."}, svc, nil)
	require.NoError(t, err)
	assert.Equal(t, "supply_chain", m.Name())
	assert.Equal(t, "You are a logistics expert.", m.SystemPrompt())

	other, err := NewDynamic(model.AdHocModule{Name: "climate_policy", SystemPrompt: "You are a climate expert."}, svc, nil)
	require.NoError(t, err)
	assert.Equal(t, "You are a logistics expert.", m.SystemPrompt(), "modules do not share prompt state")
	assert.Equal(t, "You are a climate expert.", other.SystemPrompt())

	_, err = NewDynamic(model.AdHocModule{Name: "Bad Name", SystemPrompt: "x"}, svc, nil)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = NewDynamic(model.AdHocModule{Name: "market", SystemPrompt: "x"}, svc, nil)
	assert.ErrorIs(t, err, ErrShadowsBuiltin)

	_, err = NewDynamic(model.AdHocModule{Name: "empty_prompt"}, svc, nil)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, ok := Lookup("supply_chain")
	assert.False(t, ok, "dynamic modules never enter the built-in pool")
}

func TestBuild(t *testing.T) {
	svc := &llmtest.Fake{}

	reg, accepted, err := Build([]string{"market", "cost"}, []model.AdHocModule{
		{Name: "supply_chain", SystemPrompt: "You are a logistics expert."},
		{Name: "supply_chain", SystemPrompt: "duplicate"},
		{Name: "risk", SystemPrompt: "shadow"},
		{Name: "market", SystemPrompt: "impostor"},
	}, svc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"market", "cost", "supply_chain"}, reg.Names())
	assert.Equal(t, []model.AdHocModule{{Name: "supply_chain", SystemPrompt: "You are a logistics expert."}}, accepted,
		"only definitions that reached the roster are reported")

	_, accepted, err = Build([]string{"market"}, nil, svc, nil)
	require.NoError(t, err)
	assert.Empty(t, accepted)

	_, _, err = Build([]string{"astrology"}, nil, svc, nil)
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, _, err = Build([]string{"market", "market"}, nil, svc, nil)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistry_Subset(t *testing.T) {
	reg, _, err := Build([]string{"market", "cost", "risk"}, nil, &llmtest.Fake{}, nil)
	require.NoError(t, err)

	sub := reg.Subset([]string{"risk", "market", "legal"})
	assert.Equal(t, []string{"market", "risk"}, sub.Names())
	assert.True(t, sub.Has("risk"))
	assert.False(t, sub.Has("cost"))

	m, ok := sub.Get("market")
	require.True(t, ok)
	assert.Equal(t, "market", m.Name())
	assert.Len(t, sub.Modules(), 2)
	assert.Equal(t, 3, reg.Len(), "original roster untouched")
}
