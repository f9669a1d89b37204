// Package search gathers grounding material from the web for module and
// conflict analyses.
//
// A PrePass turns a problem into a few focused queries with the reasoning
// service, runs them against a Backend, and returns a deduplicated Context.
// Every failure along the way degrades to "no context": callers never see an
// error from a Provider.
package search

import (
	"context"
	"fmt"
	"strings"
)

// Result caps applied to fetched contexts.
const (
	ModuleResultCap   = 8
	ConflictResultCap = 6
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title" yaml:"title"`
	URL     string `json:"url" yaml:"url"`
	Content string `json:"content" yaml:"content"`
}

// Source renders the hit as a "Title — URL" source string.
func (r Result) Source() string {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = r.URL
	}
	return fmt.Sprintf("%s — %s", title, r.URL)
}

// Context is the grounding material handed to one analysis call.
type Context struct {
	Queries []string `json:"queries" yaml:"queries"`
	Results []Result `json:"results" yaml:"results"`
}

// Empty reports whether c carries no results. A nil Context is empty.
func (c *Context) Empty() bool {
	return c == nil || len(c.Results) == 0
}

// Sources returns the unnumbered "Title — URL" strings in result order.
func (c *Context) Sources() []string {
	if c.Empty() {
		return []string{}
	}
	out := make([]string, len(c.Results))
	for i, r := range c.Results {
		out[i] = r.Source()
	}
	return out
}

// maxSnippet bounds each result's content in prompts.
const maxSnippet = 600

// Format renders the context for inclusion in a prompt. It returns "" for an
// empty context.
func (c *Context) Format() string {
	if c.Empty() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("GROUNDED RESEARCH CONTEXT\n")
	if len(c.Queries) > 0 {
		sb.WriteString(fmt.Sprintf("Queries: %s\n", strings.Join(c.Queries, "; ")))
	}
	sb.WriteString("Cite these sources by number. Copy them verbatim as \"N. Title — URL\".\n\n")

	for i, r := range c.Results {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, r.Source()))
		if content := truncate(strings.TrimSpace(r.Content), maxSnippet); content != "" {
			sb.WriteString("   ")
			sb.WriteString(strings.ReplaceAll(content, "\n", " "))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// Provider supplies search context. Implementations return nil when no
// context could be gathered; they never fail the caller.
type Provider interface {
	// FetchForModule gathers context for one module's analysis. In round 2,
	// prior holds the module's round-1 key findings.
	FetchForModule(ctx context.Context, problem, module, systemPrompt string, round int, prior []string) *Context

	// FetchForConflict gathers evidence for resolving one conflict or flag.
	FetchForConflict(ctx context.Context, problem, topic, description string) *Context
}

// Backend executes a single web query.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
