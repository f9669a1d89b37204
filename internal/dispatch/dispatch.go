// Package dispatch runs one round of module analyses through a single
// orchestrating tool-calling exchange.
//
// The orchestrating model only names the work: it answers with a batch of
// analyze_module calls and every call is executed locally, concurrently, by the
// named module. Results are returned in roster order regardless of completion
// order or the order the model asked for them.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/perspective"
	"github.com/rand/mediate/internal/prompts"
	"github.com/rand/mediate/internal/search"
)

// ToolName is the function declared to the orchestrating model.
const ToolName = "analyze_module"

// DefaultMaxTurns caps the number of exchange turns per round.
const DefaultMaxTurns = 4

// ErrNoModules is returned when a round is dispatched with an empty roster.
var ErrNoModules = errors.New("dispatch: no modules to run")

// Round describes one dispatch.
type Round struct {
	// Number is 1 or 2.
	Number  int
	Problem string
	Roster  *perspective.Registry

	// Peers holds the round-1 outputs handed to round-2 modules. Each module
	// sees every peer but itself.
	Peers []model.ModuleOutput

	// Searcher is optional.
	Searcher search.Provider
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxTurns overrides DefaultMaxTurns.
func WithMaxTurns(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTurns = n
		}
	}
}

// WithFallback controls whether modules the orchestrating model never invoked
// are run directly after the exchange ends. It is on by default.
func WithFallback(enabled bool) Option {
	return func(d *Dispatcher) {
		d.fallback = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher fans a round out to its modules.
type Dispatcher struct {
	svc      llm.Conversational
	maxTurns int
	fallback bool
	logger   *slog.Logger
}

// New creates a Dispatcher. A nil svc skips the orchestrating exchange and
// runs every module directly.
func New(svc llm.Conversational, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		svc:      svc,
		maxTurns: DefaultMaxTurns,
		fallback: true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// accumulator collects round results. Each module key is written once.
type accumulator struct {
	mu       sync.Mutex
	captured map[string]model.ModuleOutput
}

func (a *accumulator) store(out model.ModuleOutput) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.captured[out.ModuleName]; ok {
		return false
	}
	a.captured[out.ModuleName] = out
	return true
}

func (a *accumulator) has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.captured[name]
	return ok
}

// Run executes the round and returns the successful outputs in roster order.
// Module failures are logged and leave the module out of the result. An error
// is returned only when the orchestrating exchange fails before any work was
// requested.
func (d *Dispatcher) Run(ctx context.Context, r Round) ([]model.ModuleOutput, error) {
	if r.Roster == nil || r.Roster.Len() == 0 {
		return nil, ErrNoModules
	}

	start := time.Now()
	acc := &accumulator{captured: make(map[string]model.ModuleOutput, r.Roster.Len())}
	attempted := make(map[string]bool, r.Roster.Len())

	if d.svc != nil {
		if err := d.converse(ctx, r, acc, attempted); err != nil {
			return nil, err
		}
	}

	if d.fallback || d.svc == nil {
		var missing []perspective.Module
		for _, m := range r.Roster.Modules() {
			if !attempted[m.Name()] {
				missing = append(missing, m)
			}
		}
		if len(missing) > 0 {
			d.logger.Info("running modules directly", "round", r.Number, "modules", len(missing))
			d.runAll(ctx, r, missing, acc)
		}
	}

	out := make([]model.ModuleOutput, 0, len(acc.captured))
	for _, name := range r.Roster.Names() {
		if o, ok := acc.captured[name]; ok {
			out = append(out, o)
		}
	}

	d.logger.Info("round complete",
		"round", r.Number,
		"succeeded", len(out),
		"roster", r.Roster.Len(),
		"duration", time.Since(start))
	return out, nil
}

func (d *Dispatcher) converse(ctx context.Context, r Round, acc *accumulator, attempted map[string]bool) error {
	names := r.Roster.Names()
	tool, err := analyzeModuleTool(r.Number, names)
	if err != nil {
		return err
	}

	system, user := prompts.Dispatch(r.Number, names)
	conv := []llm.Message{llm.SystemMessage(system), llm.UserMessage(user)}
	tools := []llm.Tool{tool}

	for turn := 0; turn < d.maxTurns; turn++ {
		reply, err := d.svc.Converse(ctx, conv, tools)
		if err != nil {
			if turn == 0 {
				return fmt.Errorf("dispatch round %d: %w", r.Number, err)
			}
			d.logger.Warn("orchestrating exchange failed", "round", r.Number, "turn", turn+1, "error", err)
			return nil
		}
		if len(reply.ToolCalls) == 0 {
			return nil
		}

		conv = append(conv, llm.AssistantMessage(reply))
		results := d.execute(ctx, r, reply.ToolCalls, acc, attempted)
		conv = append(conv, llm.ToolMessage(results))
	}

	d.logger.Warn("exchange turn cap reached", "round", r.Number, "max_turns", d.maxTurns)
	return nil
}

// execute runs one reply's tool calls concurrently and returns their results
// in call order.
func (d *Dispatcher) execute(ctx context.Context, r Round, calls []llm.ToolCall, acc *accumulator, attempted map[string]bool) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(len(calls))

	for i, call := range calls {
		name := gjson.Get(call.Input, "module_name").String()
		m, ok := r.Roster.Get(name)

		switch {
		case call.Name != ToolName || !ok:
			d.logger.Warn("unknown module requested", "round", r.Number, "tool", call.Name, "module", name)
			results[i] = llm.ToolResult{CallID: call.ID, Output: fmt.Sprintf("error: unknown module %q", name), IsError: true}
			continue
		case attempted[name]:
			results[i] = llm.ToolResult{CallID: call.ID, Output: "skipped: already run"}
			continue
		}
		attempted[name] = true

		g.Go(func() error {
			if err := d.runModule(ctx, r, m, acc); err != nil {
				results[i] = llm.ToolResult{CallID: call.ID, Output: "error: " + err.Error(), IsError: true}
				return nil
			}
			results[i] = llm.ToolResult{CallID: call.ID, Output: "ok"}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (d *Dispatcher) runAll(ctx context.Context, r Round, modules []perspective.Module, acc *accumulator) {
	var g errgroup.Group
	g.SetLimit(len(modules))
	for _, m := range modules {
		g.Go(func() error {
			_ = d.runModule(ctx, r, m, acc)
			return nil
		})
	}
	_ = g.Wait()
}

// runModule runs one module's round method and stores its output. Failures
// are logged and returned for the tool acknowledgement; they never stop
// sibling tasks.
func (d *Dispatcher) runModule(ctx context.Context, r Round, m perspective.Module, acc *accumulator) error {
	name := m.Name()
	if acc.has(name) {
		return nil
	}

	start := time.Now()
	var (
		out model.ModuleOutput
		err error
	)

	switch r.Number {
	case 1:
		sc := fetch(ctx, r, m, nil)
		out, err = m.RunRound1(ctx, r.Problem, sc)
	default:
		peers := make([]model.ModuleOutput, 0, len(r.Peers))
		var own []string
		for _, p := range r.Peers {
			if p.ModuleName == name {
				own = p.KeyFindings()
				continue
			}
			peers = append(peers, p)
		}
		sc := fetch(ctx, r, m, own)
		out, err = m.RunRound2(ctx, r.Problem, peers, sc)
	}

	if err != nil {
		d.logger.Error("module failed", "module", name, "round", r.Number, "error", err)
		return err
	}

	out.ModuleName = name
	out.Round = r.Number
	out.Revised = r.Number == 2
	acc.store(out)

	d.logger.Debug("module complete", "module", name, "round", r.Number, "duration", time.Since(start))
	return nil
}

func fetch(ctx context.Context, r Round, m perspective.Module, prior []string) *search.Context {
	if r.Searcher == nil {
		return nil
	}
	if len(prior) > 3 {
		prior = prior[:3]
	}
	return r.Searcher.FetchForModule(ctx, r.Problem, m.Name(), m.SystemPrompt(), r.Number, prior)
}

type analyzeModuleInput struct {
	ModuleName string `json:"module_name" jsonschema:"description=Which expert module to run"`
}

// analyzeModuleTool declares the tool with module_name restricted to the roster.
func analyzeModuleTool(round int, names []string) (llm.Tool, error) {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(&analyzeModuleInput{})

	if prop, ok := s.Properties.Get("module_name"); ok {
		enum := make([]any, len(names))
		for i, n := range names {
			enum[i] = n
		}
		prop.Enum = enum
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return llm.Tool{}, fmt.Errorf("marshal tool schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return llm.Tool{}, fmt.Errorf("unmarshal tool schema: %w", err)
	}
	delete(schema, "$schema")
	delete(schema, "$id")

	return llm.Tool{
		Name:        ToolName,
		Description: prompts.DispatchToolDescription(round),
		Schema:      schema,
	}, nil
}
