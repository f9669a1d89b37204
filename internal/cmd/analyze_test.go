package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/mediate/internal/config"
	"github.com/rand/mediate/internal/llm/llmtest"
	"github.com/rand/mediate/internal/model"
)

func parsedAnalyzeCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "analyze"}
	addAnalyzeFlags(c.Flags())
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestApplyAnalyzeFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.Weights = map[string]float64{"legal": 3}

	c := parsedAnalyzeCmd(t,
		"-w", "cost=0", "-w", "market=2",
		"--modules", "market,cost,legal",
		"--raci", "--deep-research", "--no-search",
		"--model", "claude-test", "--timeout", "90s")
	require.NoError(t, applyAnalyzeFlags(c, &cfg))

	assert.Equal(t, map[string]float64{"legal": 3, "cost": 0, "market": 2}, cfg.Analysis.Weights)
	assert.Equal(t, []string{"market", "cost", "legal"}, cfg.Analysis.Modules)
	assert.True(t, cfg.Analysis.RACI)
	assert.True(t, cfg.Analysis.DeepResearch)
	assert.False(t, cfg.Analysis.AutoSelect)
	assert.False(t, cfg.Search.Enabled)
	assert.Equal(t, "claude-test", cfg.Provider.Model)
	assert.Equal(t, 90*time.Second, cfg.Analysis.Timeout)
}

func TestApplyAnalyzeFlags_KeepsConfigWhenUnset(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.AutoSelect = true
	cfg.Analysis.Timeout = time.Minute

	c := parsedAnalyzeCmd(t)
	require.NoError(t, applyAnalyzeFlags(c, &cfg))

	assert.True(t, cfg.Analysis.AutoSelect)
	assert.True(t, cfg.Search.Enabled)
	assert.Equal(t, time.Minute, cfg.Analysis.Timeout)
	assert.Equal(t, config.Default().Analysis.Modules, cfg.Analysis.Modules)
}

func TestApplyAnalyzeFlags_BadWeight(t *testing.T) {
	cfg := config.Default()
	c := parsedAnalyzeCmd(t, "-w", "market")

	err := applyAnalyzeFlags(c, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected module=weight")
}

func TestReadProblem(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		input   string
		piped   bool
		want    string
		wantErr error
		prompt  bool
	}{
		{name: "args", args: []string{"Launch", " a product "}, want: "Launch  a product"},
		{name: "piped", input: "  From a pipe\nsecond line\n", piped: true, want: "From a pipe\nsecond line"},
		{name: "piped empty", input: "  \n", piped: true, wantErr: errNoProblem},
		{name: "prompt", input: "Typed idea\nignored\n", want: "Typed idea", prompt: true},
		{name: "prompt without newline", input: "Typed idea", want: "Typed idea", prompt: true},
		{name: "prompt empty", input: "\n", wantErr: errNoProblem, prompt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt bytes.Buffer
			got, err := readProblem(tt.args, bufio.NewReader(strings.NewReader(tt.input)), tt.piped, &prompt)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.prompt {
				assert.Contains(t, prompt.String(), "Enter your problem")
			} else {
				assert.Empty(t, prompt.String())
			}
		})
	}
}

type answerer struct {
	questions []string
	fail      map[string]bool
}

func (a *answerer) Followup(_ context.Context, _ model.FinalAnalysis, question string) (string, error) {
	a.questions = append(a.questions, question)
	if a.fail[question] {
		return "", errors.New("provider unavailable")
	}
	return "answer to " + question, nil
}

func TestFollowupLoop(t *testing.T) {
	t.Run("stops on exit", func(t *testing.T) {
		a := &answerer{}
		var out bytes.Buffer
		in := bufio.NewReader(strings.NewReader("why?\nEXIT\nnever asked\n"))

		require.NoError(t, followupLoop(context.Background(), in, &out, a, model.NewFinalAnalysis("p")))
		assert.Equal(t, []string{"why?"}, a.questions)
		assert.Contains(t, out.String(), "answer to why?")
	})

	t.Run("stops on empty line", func(t *testing.T) {
		a := &answerer{}
		in := bufio.NewReader(strings.NewReader("\nlater\n"))

		require.NoError(t, followupLoop(context.Background(), in, io.Discard, a, model.NewFinalAnalysis("p")))
		assert.Empty(t, a.questions)
	})

	t.Run("last question without newline", func(t *testing.T) {
		a := &answerer{}
		var out bytes.Buffer
		in := bufio.NewReader(strings.NewReader("first\nsecond"))

		require.NoError(t, followupLoop(context.Background(), in, &out, a, model.NewFinalAnalysis("p")))
		assert.Equal(t, []string{"first", "second"}, a.questions)
		assert.Contains(t, out.String(), "answer to second")
	})

	t.Run("errors are reported and the loop continues", func(t *testing.T) {
		a := &answerer{fail: map[string]bool{"bad": true}}
		var out bytes.Buffer
		in := bufio.NewReader(strings.NewReader("bad\ngood\nquit\n"))

		require.NoError(t, followupLoop(context.Background(), in, &out, a, model.NewFinalAnalysis("p")))
		assert.Equal(t, []string{"bad", "good"}, a.questions)
		assert.Contains(t, out.String(), "error: provider unavailable")
		assert.Contains(t, out.String(), "answer to good")
	})
}

func TestBuildMediator(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("with search", func(t *testing.T) {
		cfg := config.Default()
		cfg.Search.Backend = "duckduckgo"
		cfg.Analysis.RACI = true

		m, err := buildMediator(cfg, &llmtest.Fake{}, logger)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("without search", func(t *testing.T) {
		cfg := config.Default()
		cfg.Search.Enabled = false

		m, err := buildMediator(cfg, &llmtest.Fake{}, logger)
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("unknown roster module", func(t *testing.T) {
		cfg := config.Default()
		cfg.Search.Enabled = false
		cfg.Analysis.Modules = []string{"astrology"}

		_, err := buildMediator(cfg, &llmtest.Fake{}, logger)
		assert.Error(t, err)
	})
}
