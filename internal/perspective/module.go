// Package perspective implements the role-scoped analysis units that take
// part in each round.
//
// Every module, built-in or defined at run time, is the same promptModule
// value: a name, a system prompt and a reasoning service. Run-time modules get
// their prompt as construction data; nothing is registered globally.
package perspective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/prompts"
	"github.com/rand/mediate/internal/search"
)

// Errors returned when building modules.
var (
	ErrInvalidName    = errors.New("perspective: invalid module name")
	ErrEmptyPrompt    = errors.New("perspective: empty system prompt")
	ErrDuplicate      = errors.New("perspective: duplicate module")
	ErrUnknownModule  = errors.New("perspective: unknown module")
	ErrShadowsBuiltin = errors.New("perspective: name shadows a built-in module")
)

// Module is one perspective taking part in the rounds.
type Module interface {
	// Name is the module's roster key.
	Name() string

	// SystemPrompt is the role prompt, also used to steer search queries.
	SystemPrompt() string

	// RunRound1 produces an independent analysis.
	RunRound1(ctx context.Context, problem string, sc *search.Context) (model.ModuleOutput, error)

	// RunRound2 revises the analysis after seeing the peers' round-1 outputs.
	RunRound2(ctx context.Context, problem string, peers []model.ModuleOutput, sc *search.Context) (model.ModuleOutput, error)
}

type promptModule struct {
	name   string
	system string
	svc    llm.Service
	logger *slog.Logger
}

// New builds the built-in module called name.
func New(name string, svc llm.Service, logger *slog.Logger) (Module, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return newPromptModule(def.Name, def.SystemPrompt, svc, logger), nil
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,39}$`)

// NewDynamic builds a module from a run-time definition. The name must be a
// lower-case identifier that does not shadow a built-in module.
func NewDynamic(def model.AdHocModule, svc llm.Service, logger *slog.Logger) (Module, error) {
	if !namePattern.MatchString(def.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, def.Name)
	}
	if IsKnown(def.Name) {
		return nil, fmt.Errorf("%w: %q", ErrShadowsBuiltin, def.Name)
	}
	if def.SystemPrompt == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyPrompt, def.Name)
	}
	return newPromptModule(def.Name, def.SystemPrompt, svc, logger), nil
}

func newPromptModule(name, system string, svc llm.Service, logger *slog.Logger) *promptModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &promptModule{
		name:   name,
		system: system,
		svc:    svc,
		logger: logger.With("module", name),
	}
}

func (m *promptModule) Name() string         { return m.name }
func (m *promptModule) SystemPrompt() string { return m.system }

func (m *promptModule) RunRound1(ctx context.Context, problem string, sc *search.Context) (model.ModuleOutput, error) {
	m.logger.Info("running module", "round", 1, "grounded", !sc.Empty())
	system, user := prompts.Round1(m.system, problem, sc)
	doc, err := m.svc.Analyze(ctx, system, user)
	if err != nil {
		return model.ModuleOutput{}, fmt.Errorf("%s round 1: %w", m.name, err)
	}
	return DecodeOutput(m.name, 1, doc), nil
}

func (m *promptModule) RunRound2(ctx context.Context, problem string, peers []model.ModuleOutput, sc *search.Context) (model.ModuleOutput, error) {
	m.logger.Info("running module", "round", 2, "peers", len(peers), "grounded", !sc.Empty())
	system, user := prompts.Round2(m.name, m.system, problem, peers, sc)
	doc, err := m.svc.Analyze(ctx, system, user)
	if err != nil {
		return model.ModuleOutput{}, fmt.Errorf("%s round 2: %w", m.name, err)
	}
	return DecodeOutput(m.name, 2, doc), nil
}

// DecodeOutput turns a reply document into a ModuleOutput. Replies without an
// "analysis" object degrade to using the whole document (minus flags and
// sources) as the analysis; the output shape is always complete.
func DecodeOutput(name string, round int, doc llm.Document) model.ModuleOutput {
	var analysis model.Analysis

	a := doc.Get("analysis")
	switch {
	case a.IsObject():
		if err := doc.Decode("analysis", &analysis); err != nil {
			analysis = model.NewAnalysis(model.Field{Key: "summary", Value: model.Text(a.Raw)})
		}
	case a.Exists() && a.String() != "":
		analysis = model.NewAnalysis(model.Field{Key: "summary", Value: model.Text(a.String())})
	default:
		var whole model.Analysis
		if err := doc.Decode("", &whole); err == nil {
			analysis = model.NewAnalysis()
			whole.Each(func(k string, v model.Value) {
				if k == "flags" || k == "sources" || k == "analysis" {
					return
				}
				analysis.Set(k, v)
			})
		}
	}
	if analysis.Len() == 0 {
		analysis = model.NewAnalysis()
	}

	return model.NewModuleOutput(name, round, analysis, doc.Strings("flags"), doc.Strings("sources"))
}
