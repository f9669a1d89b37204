package llm

import (
	"sync"

	"github.com/rand/mediate/internal/model"
)

// Bucket groups token usage by call kind.
type Bucket int

const (
	BucketAnalyze Bucket = iota
	BucketChat
	BucketOrchestrator
)

func (b Bucket) String() string {
	switch b {
	case BucketAnalyze:
		return "analyze"
	case BucketChat:
		return "chat"
	case BucketOrchestrator:
		return "orchestrator"
	default:
		return "unknown"
	}
}

// Usage is a snapshot of accumulated token counts.
type Usage = model.TokenUsage

// UsageTracker accumulates token counts from concurrent calls.
type UsageTracker struct {
	mu    sync.Mutex
	state Usage
}

// Add records one call's tokens.
func (t *UsageTracker) Add(b Bucket, input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch b {
	case BucketAnalyze:
		t.state.AnalyzeInput += input
		t.state.AnalyzeOutput += output
	case BucketChat:
		t.state.ChatInput += input
		t.state.ChatOutput += output
	case BucketOrchestrator:
		t.state.OrchestratorInput += input
		t.state.OrchestratorOutput += output
	}
}

// Usage returns a copy of the current counts.
func (t *UsageTracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
