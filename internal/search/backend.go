package search

import (
	"log/slog"
)

// Backend names accepted by NewBackend.
const (
	BackendAuto       = "auto"
	BackendTavily     = "tavily"
	BackendDuckDuckGo = "duckduckgo"
)

// NewBackend picks a backend by name. "auto" prefers Tavily when an API key is
// available and falls back to DuckDuckGo.
func NewBackend(name, tavilyKey string, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}

	if name == BackendTavily || (name == BackendAuto || name == "") && tavilyKey != "" {
		b, err := NewTavilyBackend(tavilyKey)
		if err == nil {
			logger.Debug("search backend selected", "backend", b.Name())
			return b
		}
		logger.Warn("tavily unavailable, falling back to duckduckgo", "error", err)
	}

	b := NewDuckDuckGoBackend("", nil)
	logger.Debug("search backend selected", "backend", b.Name())
	return b
}
