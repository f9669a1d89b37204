// Package llmtest provides a scriptable llm.Conversational for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rand/mediate/internal/llm"
)

// ErrNotScripted is returned for calls the test did not script.
var ErrNotScripted = errors.New("llmtest: call not scripted")

// Call records one request.
type Call struct {
	Kind   string // "analyze", "chat" or "converse"
	System string
	User   string
}

// Fake is an llm.Conversational whose replies come from test functions.
// It is safe for concurrent use.
type Fake struct {
	AnalyzeFunc  func(ctx context.Context, system, user string) (llm.Document, error)
	ChatFunc     func(ctx context.Context, system, user string) (string, error)
	ConverseFunc func(ctx context.Context, conv []llm.Message, tools []llm.Tool) (llm.Reply, error)

	mu    sync.Mutex
	calls []Call
}

var _ llm.Conversational = (*Fake)(nil)

// Analyze implements llm.Service.
func (f *Fake) Analyze(ctx context.Context, system, user string) (llm.Document, error) {
	f.record(Call{Kind: "analyze", System: system, User: user})
	if f.AnalyzeFunc == nil {
		return llm.Document{}, ErrNotScripted
	}
	return f.AnalyzeFunc(ctx, system, user)
}

// Chat implements llm.Service.
func (f *Fake) Chat(ctx context.Context, system, user string) (string, error) {
	f.record(Call{Kind: "chat", System: system, User: user})
	if f.ChatFunc == nil {
		return "", ErrNotScripted
	}
	return f.ChatFunc(ctx, system, user)
}

// Converse implements llm.Conversational.
func (f *Fake) Converse(ctx context.Context, conv []llm.Message, tools []llm.Tool) (llm.Reply, error) {
	var user string
	if len(conv) > 0 {
		user = conv[len(conv)-1].Text
	}
	f.record(Call{Kind: "converse", User: user})
	if f.ConverseFunc == nil {
		return llm.Reply{}, ErrNotScripted
	}
	return f.ConverseFunc(ctx, conv, tools)
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CountWhere counts recorded calls of kind whose system prompt contains substr.
func (f *Fake) CountWhere(kind, substr string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Kind == kind && strings.Contains(c.System, substr) {
			n++
		}
	}
	return n
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// JSON is a helper returning a fixed document for every Analyze call.
func JSON(raw string) func(context.Context, string, string) (llm.Document, error) {
	doc := llm.MustDocument(raw)
	return func(context.Context, string, string) (llm.Document, error) {
		return doc, nil
	}
}
