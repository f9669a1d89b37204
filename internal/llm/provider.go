package llm

import (
	"fmt"
	"log/slog"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openrouter"
)

// Provider names accepted by ProviderConfig.Name.
const (
	ProviderAuto       = "auto"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// DefaultOpenRouterModel is the OpenRouter slug matching DefaultModel.
const DefaultOpenRouterModel = "anthropic/claude-sonnet-4"

// ProviderConfig selects and authenticates a model provider.
type ProviderConfig struct {
	Name             string
	Model            string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenRouterAPIKey string
	MaxTokens        int64
	MaxRetries       uint64
	Logger           *slog.Logger
}

// NewClientFromConfig creates the best available client. With Name "auto" it
// prefers Anthropic and falls back to OpenRouter. It returns the provider name
// actually used.
func NewClientFromConfig(cfg ProviderConfig) (*FantasyClient, string, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = ProviderAuto
	}

	var attempts []string
	switch name {
	case ProviderAuto:
		attempts = []string{ProviderAnthropic, ProviderOpenRouter}
	case ProviderAnthropic, ProviderOpenRouter:
		attempts = []string{name}
	default:
		return nil, "", fmt.Errorf("unknown provider %q", name)
	}

	var lastErr error
	for _, p := range attempts {
		provider, model, err := newProvider(p, cfg)
		if err != nil {
			lastErr = err
			if name == ProviderAuto {
				logger.Debug("provider unavailable, trying next", "provider", p, "error", err)
			}
			continue
		}

		client, err := NewFantasyClient(ClientConfig{
			Provider:   provider,
			Model:      model,
			MaxTokens:  cfg.MaxTokens,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create %s client: %w", p, err)
		}
		logger.Info("using model provider", "provider", p, "model", client.Model())
		return client, p, nil
	}

	return nil, "", fmt.Errorf("no LLM provider available: %w", lastErr)
}

func newProvider(name string, cfg ProviderConfig) (fantasy.Provider, string, error) {
	switch name {
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.AnthropicAPIKey)}
		if cfg.AnthropicBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.AnthropicBaseURL))
		}
		p, err := anthropic.New(opts...)
		if err != nil {
			return nil, "", fmt.Errorf("create anthropic provider: %w", err)
		}
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}
		return p, model, nil

	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, "", fmt.Errorf("OPENROUTER_API_KEY not set")
		}
		p, err := openrouter.New(openrouter.WithAPIKey(cfg.OpenRouterAPIKey))
		if err != nil {
			return nil, "", fmt.Errorf("create openrouter provider: %w", err)
		}
		model := cfg.Model
		if model == "" {
			model = DefaultOpenRouterModel
		}
		return p, model, nil
	}
	return nil, "", fmt.Errorf("unknown provider %q", name)
}
