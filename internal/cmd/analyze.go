package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rand/mediate/internal/config"
	"github.com/rand/mediate/internal/dispatch"
	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/mediator"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/research"
	"github.com/rand/mediate/internal/search"
)

var (
	errNoProblem  = errors.New("no problem provided")
	errNoProvider = errors.New("no model provider configured: set ANTHROPIC_API_KEY or OPENROUTER_API_KEY")
)

func init() {
	addAnalyzeFlags(analyzeCmd.Flags())
}

func addAnalyzeFlags(fs *pflag.FlagSet) {
	fs.StringArrayP("weight", "w", nil, "Module weight as module=N; 0 deactivates the module (repeatable)")
	fs.StringSliceP("modules", "m", nil, "Static module roster (default: market,cost,risk)")
	fs.Bool("raci", false, "Use the RACI matrix for conflict resolution in synthesis")
	fs.Bool("auto-select", false, "Pick modules adaptively for the problem")
	fs.Bool("no-search", false, "Skip the grounding search pre-pass")
	fs.Bool("deep-research", false, "Research high and critical conflicts and red flags after synthesis")
	fs.StringP("output", "o", FormatHuman, "Output format (human, json, yaml)")
	fs.BoolP("interactive", "i", false, "Ask follow-up questions after the analysis")
	fs.BoolP("rounds", "r", false, "Show round-by-round module summaries")
	fs.String("model", "", "Model identifier override")
	fs.Duration("timeout", 0, "Abort the run after this long (e.g. 10m)")
	fs.BoolP("quiet", "q", false, "Suppress progress output")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [problem...]",
	Short: "Analyze a problem from multiple expert perspectives",
	Long: `Run a mediated analysis: two rounds of module analyses, synthesis, and
citation consolidation, optionally followed by deep research.

The problem can be given as arguments, piped on stdin, or typed at the prompt.`,
	Example: `
# Analyze with the default roster
mediate analyze "Launch a subscription coffee service in Berlin"

# Weight legal up and switch cost off
mediate analyze -w legal=2 -w cost=0 "Open-source our billing engine"

# Let the model pick modules and research serious conflicts
mediate analyze --auto-select --deep-research "Build a drone delivery pilot"

# Machine-readable output
cat idea.txt | mediate analyze -o json > analysis.json

# Ask follow-up questions afterwards
mediate analyze -i "Move our data warehouse to the cloud"
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyAnalyzeFlags(cmd, &cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		format, err := parseFormat(output)
		if err != nil {
			return err
		}
		interactive, _ := cmd.Flags().GetBool("interactive")
		rounds, _ := cmd.Flags().GetBool("rounds")
		quiet, _ := cmd.Flags().GetBool("quiet")

		logger, closer, err := setupLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeQuietly(closer)

		in := bufio.NewReader(cmd.InOrStdin())
		problem, err := readProblem(args, in, stdinIsPipe(cmd.InOrStdin()), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		if !cfg.HasProvider() {
			return errNoProvider
		}
		client, _, err := llm.NewClientFromConfig(cfg.LLM(logger))
		if err != nil {
			return err
		}

		m, err := buildMediator(cfg, client, logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if cfg.Analysis.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Analysis.Timeout)
			defer cancel()
		}

		if !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Analyzing: %s\n", problem)
			if cfg.Analysis.AutoSelect {
				fmt.Fprintln(cmd.ErrOrStderr(), "Running adaptive module selection and mediated reasoning...")
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Running mediated reasoning with %s...\n", strings.Join(cfg.Analysis.Modules, ", "))
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "This may take a few minutes.")
		}

		fa, err := m.Analyze(ctx, problem)
		if err != nil {
			return err
		}
		logger.Debug("run counters", "counters", m.Metrics().Snapshot())
		if err := writeAnalysis(cmd.OutOrStdout(), fa, format, rounds); err != nil {
			return fmt.Errorf("write analysis: %w", err)
		}

		if interactive {
			return followupLoop(ctx, in, cmd.OutOrStdout(), m, fa)
		}
		return nil
	},
}

// applyAnalyzeFlags lays command flags over the loaded configuration.
func applyAnalyzeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if values, _ := flags.GetStringArray("weight"); len(values) > 0 {
		weights, err := config.ParseWeights(values)
		if err != nil {
			return err
		}
		if cfg.Analysis.Weights == nil {
			cfg.Analysis.Weights = map[string]float64{}
		}
		for k, v := range weights {
			cfg.Analysis.Weights[k] = v
		}
	}
	if modules, _ := flags.GetStringSlice("modules"); len(modules) > 0 {
		cfg.Analysis.Modules = modules
	}
	if flags.Changed("raci") {
		cfg.Analysis.RACI, _ = flags.GetBool("raci")
	}
	if flags.Changed("auto-select") {
		cfg.Analysis.AutoSelect, _ = flags.GetBool("auto-select")
	}
	if flags.Changed("deep-research") {
		cfg.Analysis.DeepResearch, _ = flags.GetBool("deep-research")
	}
	if noSearch, _ := flags.GetBool("no-search"); noSearch {
		cfg.Search.Enabled = false
	}
	if name, _ := flags.GetString("model"); name != "" {
		cfg.Provider.Model = name
	}
	if flags.Changed("timeout") {
		cfg.Analysis.Timeout, _ = flags.GetDuration("timeout")
	}
	return nil
}

// buildMediator wires the configured search pre-pass, dispatcher and
// deep-research resolver around svc.
func buildMediator(cfg config.Config, svc llm.Conversational, logger *slog.Logger) (*mediator.Mediator, error) {
	var searcher search.Provider
	if cfg.Search.Enabled {
		backend := search.NewBackend(cfg.Search.Backend, cfg.TavilyAPIKey, logger)
		prepass, err := search.NewPrePass(svc, backend,
			search.WithCacheSize(cfg.Search.CacheSize),
			search.WithRateLimit(cfg.Search.RateLimit),
			search.WithRetries(cfg.Search.Retries),
			search.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		searcher = prepass
	}

	opts := []mediator.Option{
		mediator.WithLogger(logger),
		mediator.WithWeights(cfg.Analysis.Weights),
		mediator.WithRoster(cfg.Analysis.Modules...),
		mediator.WithAutoSelect(cfg.Analysis.AutoSelect),
		mediator.WithDeepResearch(cfg.Analysis.DeepResearch),
		mediator.WithDispatcher(dispatch.New(svc,
			dispatch.WithMaxTurns(cfg.Analysis.MaxTurns),
			dispatch.WithFallback(cfg.Analysis.Fallback),
			dispatch.WithLogger(logger))),
		mediator.WithResolver(research.New(svc,
			research.WithSearcher(searcher),
			research.WithConcurrency(cfg.Analysis.ResearchConcurrency),
			research.WithLogger(logger))),
	}
	if searcher != nil {
		opts = append(opts, mediator.WithSearcher(searcher))
	}
	if cfg.Analysis.RACI {
		opts = append(opts, mediator.WithRACI(model.DefaultRACIMatrix()))
	}

	return mediator.New(svc, opts...)
}

// readProblem takes the problem from args, then piped stdin, then a prompt.
func readProblem(args []string, in *bufio.Reader, piped bool, prompt io.Writer) (string, error) {
	if problem := strings.TrimSpace(strings.Join(args, " ")); problem != "" {
		return problem, nil
	}

	if piped {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if problem := strings.TrimSpace(string(data)); problem != "" {
			return problem, nil
		}
		return "", errNoProblem
	}

	fmt.Fprint(prompt, "Enter your problem or idea to analyze:\n> ")
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read problem: %w", err)
	}
	if problem := strings.TrimSpace(line); problem != "" {
		return problem, nil
	}
	return "", errNoProblem
}

func stdinIsPipe(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && !term.IsTerminal(f.Fd())
}

type followupAnswerer interface {
	Followup(ctx context.Context, fa model.FinalAnalysis, question string) (string, error)
}

// followupLoop answers questions about fa until EOF, an empty line, "exit"
// or "quit". Failed answers are reported and the loop continues.
func followupLoop(ctx context.Context, in *bufio.Reader, out io.Writer, m followupAnswerer, fa model.FinalAnalysis) error {
	fmt.Fprintln(out, "\nInteractive mode: ask follow-up questions (type 'exit' to quit)")
	for {
		fmt.Fprint(out, "> ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read question: %w", err)
		}
		question := strings.TrimSpace(line)
		switch strings.ToLower(question) {
		case "", "exit", "quit":
			return nil
		}

		answer, ferr := m.Followup(ctx, fa, question)
		if ferr != nil {
			fmt.Fprintf(out, "\nerror: %v\n\n", ferr)
		} else {
			fmt.Fprintf(out, "\n%s\n\n", answer)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}
