package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"charm.land/fantasy"
	"github.com/sethvargo/go-retry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// ClientConfig configures a FantasyClient.
type ClientConfig struct {
	// Provider is the Fantasy provider to use.
	Provider fantasy.Provider

	// Model overrides DefaultModel.
	Model string

	// MaxTokens caps analyze and chat replies (default: 4096).
	MaxTokens int64

	// OrchestratorMaxTokens caps dispatch exchange replies (default: 512).
	OrchestratorMaxTokens int64

	// MaxRetries for transient provider failures (default: 2).
	MaxRetries uint64

	// RetryBackoff is the base of the exponential backoff (default: 500ms).
	RetryBackoff time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// FantasyClient implements Conversational on top of a Fantasy provider.
type FantasyClient struct {
	provider fantasy.Provider
	config   ClientConfig
	usage    UsageTracker
	logger   *slog.Logger
}

// NewFantasyClient creates a client.
func NewFantasyClient(cfg ClientConfig) (*FantasyClient, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.OrchestratorMaxTokens <= 0 {
		cfg.OrchestratorMaxTokens = 512
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &FantasyClient{
		provider: cfg.Provider,
		config:   cfg,
		logger:   cfg.Logger,
	}, nil
}

// Model returns the configured model name.
func (c *FantasyClient) Model() string {
	return c.config.Model
}

// Usage implements UsageReporter.
func (c *FantasyClient) Usage() Usage {
	return c.usage.Usage()
}

// Analyze implements Service.
func (c *FantasyClient) Analyze(ctx context.Context, system, user string) (Document, error) {
	c.logger.Debug("sending analyze request", "model", c.config.Model)

	resp, err := c.generate(ctx, fantasy.Call{
		Prompt:          fantasy.Prompt{systemMessage(system), fantasy.NewUserMessage(user)},
		MaxOutputTokens: &c.config.MaxTokens,
	})
	if err != nil {
		return Document{}, err
	}
	c.usage.Add(BucketAnalyze, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	doc, err := ParseDocument(resp.Content.Text())
	if err != nil {
		return Document{}, fmt.Errorf("parse analyze response: %w", err)
	}
	return doc, nil
}

// Chat implements Service.
func (c *FantasyClient) Chat(ctx context.Context, system, user string) (string, error) {
	c.logger.Debug("sending chat request", "model", c.config.Model)

	resp, err := c.generate(ctx, fantasy.Call{
		Prompt:          fantasy.Prompt{systemMessage(system), fantasy.NewUserMessage(user)},
		MaxOutputTokens: &c.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	c.usage.Add(BucketChat, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	text := resp.Content.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Converse implements Conversational.
func (c *FantasyClient) Converse(ctx context.Context, conv []Message, tools []Tool) (Reply, error) {
	prompt := make(fantasy.Prompt, 0, len(conv))
	for _, m := range conv {
		prompt = append(prompt, toFantasyMessage(m))
	}

	fts := make([]fantasy.Tool, 0, len(tools))
	for _, t := range tools {
		fts = append(fts, fantasy.FunctionTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}

	resp, err := c.generate(ctx, fantasy.Call{
		Prompt:          prompt,
		MaxOutputTokens: &c.config.OrchestratorMaxTokens,
		Tools:           fts,
	})
	if err != nil {
		return Reply{}, err
	}
	c.usage.Add(BucketOrchestrator, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	reply := Reply{
		Text:         resp.Content.Text(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	for _, tc := range resp.Content.ToolCalls() {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:    tc.ToolCallID,
			Name:  tc.ToolName,
			Input: tc.Input,
		})
	}
	return reply, nil
}

// generate calls the model, retrying transient provider failures.
func (c *FantasyClient) generate(ctx context.Context, call fantasy.Call) (*fantasy.Response, error) {
	lm, err := c.provider.LanguageModel(ctx, c.config.Model)
	if err != nil {
		return nil, fmt.Errorf("get language model: %w", err)
	}

	backoff := retry.WithMaxRetries(c.config.MaxRetries, retry.NewExponential(c.config.RetryBackoff))

	var resp *fantasy.Response
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, genErr := lm.Generate(ctx, call)
		if genErr != nil {
			if errors.Is(genErr, context.Canceled) || errors.Is(genErr, context.DeadlineExceeded) {
				return genErr
			}
			c.logger.Warn("model call failed, retrying", "model", c.config.Model, "error", genErr)
			return retry.RetryableError(genErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func systemMessage(text string) fantasy.Message {
	return fantasy.Message{
		Role:    fantasy.MessageRoleSystem,
		Content: []fantasy.MessagePart{fantasy.TextPart{Text: text}},
	}
}

func toFantasyMessage(m Message) fantasy.Message {
	switch m.Role {
	case RoleSystem:
		return systemMessage(m.Text)
	case RoleAssistant:
		parts := make([]fantasy.MessagePart, 0, len(m.ToolCalls)+1)
		if m.Text != "" {
			parts = append(parts, fantasy.TextPart{Text: m.Text})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, fantasy.ToolCallPart{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Input:      tc.Input,
			})
		}
		return fantasy.Message{Role: fantasy.MessageRoleAssistant, Content: parts}
	case RoleTool:
		parts := make([]fantasy.MessagePart, 0, len(m.ToolResults))
		for _, tr := range m.ToolResults {
			var out fantasy.ToolResultOutputContent = fantasy.ToolResultOutputContentText{Text: tr.Output}
			if tr.IsError {
				out = fantasy.ToolResultOutputContentError{Error: errors.New(tr.Output)}
			}
			parts = append(parts, fantasy.ToolResultPart{
				ToolCallID: tr.CallID,
				Output:     out,
			})
		}
		return fantasy.Message{Role: fantasy.MessageRoleTool, Content: parts}
	default:
		return fantasy.NewUserMessage(m.Text)
	}
}
