// Package config loads the effective mediate configuration from defaults, an
// optional YAML file, a .env file and the process environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rand/mediate/internal/llm"
	"github.com/rand/mediate/internal/perspective"
	"github.com/rand/mediate/internal/research"
	"github.com/rand/mediate/internal/search"
)

// DefaultFile is read when no --config path is given and it exists.
const DefaultFile = "mediate.yaml"

// Environment variables.
const (
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvOpenRouterKey = "OPENROUTER_API_KEY"
	EnvTavilyKey     = "TAVILY_API_KEY"
	EnvProvider      = "MEDIATE_PROVIDER"
	EnvModel         = "MEDIATE_MODEL"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidWeight = errors.New("invalid weight")
)

// Config is the effective configuration.
type Config struct {
	Provider ProviderConfig `json:"provider" yaml:"provider" jsonschema:"description=Model provider settings"`
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis" jsonschema:"description=Analysis pipeline settings"`
	Search   SearchConfig   `json:"search" yaml:"search" jsonschema:"description=Grounding search settings"`
	Log      LogConfig      `json:"log" yaml:"log" jsonschema:"description=Logging settings"`

	// Keys come from the environment only and are never serialized.
	AnthropicAPIKey  string `json:"-" yaml:"-"`
	OpenRouterAPIKey string `json:"-" yaml:"-"`
	TavilyAPIKey     string `json:"-" yaml:"-"`
}

// ProviderConfig selects the model provider.
type ProviderConfig struct {
	// Name is "auto", "anthropic" or "openrouter".
	Name string `json:"name,omitempty" yaml:"name,omitempty" jsonschema:"description=Model provider,enum=auto,enum=anthropic,enum=openrouter,default=auto"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty" yaml:"model,omitempty" jsonschema:"description=Model identifier,example=claude-sonnet-4-20250514"`

	// BaseURL overrides the Anthropic endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" jsonschema:"description=Anthropic API base URL override"`

	MaxTokens  int64  `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" jsonschema:"description=Maximum output tokens per call,default=4096"`
	MaxRetries uint64 `json:"max_retries,omitempty" yaml:"max_retries,omitempty" jsonschema:"description=Retries for transient model errors,default=2"`
}

// AnalysisConfig configures the pipeline.
type AnalysisConfig struct {
	// Modules is the static roster used when auto-select is off.
	Modules []string `json:"modules,omitempty" yaml:"modules,omitempty" jsonschema:"description=Static module roster,example=market"`

	// Weights steer synthesis; 0 deactivates a module.
	Weights map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty" jsonschema:"description=Per-module weights; 0 deactivates"`

	AutoSelect   bool `json:"auto_select,omitempty" yaml:"auto_select,omitempty" jsonschema:"description=Pick modules adaptively,default=false"`
	DeepResearch bool `json:"deep_research,omitempty" yaml:"deep_research,omitempty" jsonschema:"description=Research high-severity conflicts after synthesis,default=false"`
	RACI         bool `json:"raci,omitempty" yaml:"raci,omitempty" jsonschema:"description=Pass the default RACI matrix to synthesis,default=false"`

	// MaxTurns caps orchestrating exchange turns per round.
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty" jsonschema:"description=Dispatch exchange turn cap,default=4"`

	// Fallback runs modules the orchestrating model never invoked directly.
	Fallback bool `json:"fallback" yaml:"fallback" jsonschema:"description=Run modules the orchestrating model skipped,default=true"`

	// ResearchConcurrency bounds deep-research requests in flight.
	ResearchConcurrency int `json:"research_concurrency,omitempty" yaml:"research_concurrency,omitempty" jsonschema:"description=Deep-research requests in flight,default=4"`

	// Timeout bounds a whole run. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" jsonschema:"description=Run timeout,example=10m"`
}

// SearchConfig configures grounding search.
type SearchConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled" jsonschema:"description=Ground analyses in web search,default=true"`
	Backend   string  `json:"backend,omitempty" yaml:"backend,omitempty" jsonschema:"description=Search backend,enum=auto,enum=tavily,enum=duckduckgo,default=auto"`
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" jsonschema:"description=Backend queries per second,default=2"`
	CacheSize int     `json:"cache_size,omitempty" yaml:"cache_size,omitempty" jsonschema:"description=Query cache entries,default=256"`
	Retries   uint64  `json:"retries,omitempty" yaml:"retries,omitempty" jsonschema:"description=Retries for a failing query,default=1"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty" jsonschema:"description=Console log level,enum=debug,enum=info,enum=warn,enum=error,default=warn"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" jsonschema:"description=Rotating JSON log file"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" jsonschema:"description=Rotate after this many megabytes,default=10"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" jsonschema:"description=Rotated files to keep,default=3"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" jsonschema:"description=Days to keep rotated files,default=28"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Name:       llm.ProviderAuto,
			MaxTokens:  4096,
			MaxRetries: 2,
		},
		Analysis: AnalysisConfig{
			Modules:             append([]string(nil), perspective.DefaultRoster...),
			Weights:             map[string]float64{},
			MaxTurns:            4,
			Fallback:            true,
			ResearchConcurrency: research.DefaultConcurrency,
		},
		Search: SearchConfig{
			Enabled:   true,
			Backend:   search.BackendAuto,
			RateLimit: 2,
			CacheSize: 256,
			Retries:   1,
		},
		Log: LogConfig{
			Level:      "warn",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration. It reads .env from the working directory if
// present, then path (or DefaultFile when path is empty and the file exists),
// then applies environment overrides. An explicit path that does not exist is
// an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.readFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

func (c *Config) applyEnv() {
	c.AnthropicAPIKey = os.Getenv(EnvAnthropicKey)
	c.OpenRouterAPIKey = os.Getenv(EnvOpenRouterKey)
	c.TavilyAPIKey = os.Getenv(EnvTavilyKey)
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Provider.Model = v
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Provider.Name {
	case llm.ProviderAuto, llm.ProviderAnthropic, llm.ProviderOpenRouter:
	default:
		fail("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.MaxTokens <= 0 {
		fail("provider.max_tokens must be positive")
	}

	if len(c.Analysis.Modules) == 0 {
		fail("analysis.modules is empty")
	}
	seen := make(map[string]bool)
	for _, name := range c.Analysis.Modules {
		switch {
		case !perspective.IsKnown(name):
			fail("unknown module %q%s", name, didYouMean(name))
		case seen[name]:
			fail("module %q listed twice", name)
		}
		seen[name] = true
	}
	for name, w := range c.Analysis.Weights {
		if err := checkWeight(name, w); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Analysis.MaxTurns < 1 {
		fail("analysis.max_turns must be at least 1")
	}
	if c.Analysis.ResearchConcurrency < 1 {
		fail("analysis.research_concurrency must be at least 1")
	}
	if c.Analysis.Timeout < 0 {
		fail("analysis.timeout must not be negative")
	}

	switch c.Search.Backend {
	case search.BackendAuto, search.BackendTavily, search.BackendDuckDuckGo:
	default:
		fail("unknown search backend %q", c.Search.Backend)
	}
	if c.Search.RateLimit <= 0 {
		fail("search.rate_limit must be positive")
	}
	if c.Search.CacheSize <= 0 {
		fail("search.cache_size must be positive")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HasProvider reports whether any model provider key is configured.
func (c Config) HasProvider() bool {
	return c.AnthropicAPIKey != "" || c.OpenRouterAPIKey != ""
}

// LLM returns the provider settings for llm.NewClientFromConfig.
func (c Config) LLM(logger *slog.Logger) llm.ProviderConfig {
	return llm.ProviderConfig{
		Name:             c.Provider.Name,
		Model:            c.Provider.Model,
		AnthropicAPIKey:  c.AnthropicAPIKey,
		AnthropicBaseURL: c.Provider.BaseURL,
		OpenRouterAPIKey: c.OpenRouterAPIKey,
		MaxTokens:        c.Provider.MaxTokens,
		MaxRetries:       c.Provider.MaxRetries,
		Logger:           logger,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// ParseWeight parses a "module=N" flag value.
func ParseWeight(s string) (string, float64, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q, expected module=weight (e.g. legal=2)", ErrInvalidWeight, s)
	}
	name = strings.TrimSpace(name)
	w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: value %q for %s is not a number", ErrInvalidWeight, raw, name)
	}
	if err := checkWeight(name, w); err != nil {
		return "", 0, err
	}
	return name, w, nil
}

// ParseWeights parses repeated --weight values. Later values win.
func ParseWeights(values []string) (map[string]float64, error) {
	out := make(map[string]float64, len(values))
	for _, v := range values {
		name, w, err := ParseWeight(v)
		if err != nil {
			return nil, err
		}
		out[name] = w
	}
	return out, nil
}

func checkWeight(name string, w float64) error {
	if !perspective.IsKnown(name) {
		return fmt.Errorf("%w: unknown module %q%s (valid: %s)", ErrInvalidWeight, name, didYouMean(name), strings.Join(perspective.Names(), ", "))
	}
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: weight for %q must be non-negative, got %v", ErrInvalidWeight, name, w)
	}
	return nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&Config{})
	return json.MarshalIndent(s, "", "  ")
}

func didYouMean(name string) string {
	if s := perspective.Suggest(name); s != "" {
		return fmt.Sprintf(", did you mean %q?", s)
	}
	return ""
}
