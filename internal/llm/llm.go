// Package llm is the client side of the remote reasoning service.
//
// Two primitives are exposed: Analyze, a single-shot call whose reply must be a
// JSON object, and Converse, a tool-calling exchange used by the dispatch
// protocol. Chat returns plain text for follow-up questions.
package llm

import (
	"context"
	"errors"
)

// Errors returned by the client.
var (
	// ErrMalformedResponse is returned when a reply holds no usable JSON object.
	ErrMalformedResponse = errors.New("llm: response is not a JSON object")

	// ErrEmptyResponse is returned when the model sends back nothing.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Service is the analyze/chat surface used by modules, synthesis and research.
type Service interface {
	// Analyze sends a system and user prompt and parses the reply as a JSON object.
	Analyze(ctx context.Context, system, user string) (Document, error)

	// Chat sends a system and user prompt and returns the reply text.
	Chat(ctx context.Context, system, user string) (string, error)
}

// Conversational is a Service that can also run tool-calling exchanges.
type Conversational interface {
	Service

	// Converse sends the conversation with the given tools declared and
	// returns the model's next turn.
	Converse(ctx context.Context, conv []Message, tools []Tool) (Reply, error)
}

// UsageReporter exposes accumulated token usage.
type UsageReporter interface {
	Usage() Usage
}

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// SystemMessage returns a system turn.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}

// UserMessage returns a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantMessage echoes a model reply back into the conversation.
func AssistantMessage(r Reply) Message {
	return Message{Role: RoleAssistant, Text: r.Text, ToolCalls: r.ToolCalls}
}

// ToolMessage carries the results for the tool calls of the previous turn.
func ToolMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}

// Tool declares a function the model may invoke.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a single invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input string
}

// ToolResult acknowledges a tool call.
type ToolResult struct {
	CallID  string
	Output  string
	IsError bool
}

// Reply is one model turn.
type Reply struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int64
	OutputTokens int64
}
