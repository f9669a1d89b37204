package search

import (
	"fmt"
	"strings"
)

const maxDomainHint = 300

func moduleQueryPrompt(problem, module, systemPrompt string, round int, prior []string) (string, string) {
	system := "You are a research assistant. Generate 3-4 focused web search queries " +
		"for a specific analysis module. Queries must cover BOTH the specific topic " +
		"AND general domain knowledge (market data, legal frameworks, technical " +
		"benchmarks, industry statistics, historical precedents) relevant to this " +
		"module's perspective. Return ONLY a JSON object with a \"queries\" key " +
		"containing an array of query strings. No other text."

	hint := module
	if systemPrompt != "" {
		hint = truncate(systemPrompt, maxDomainHint)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Problem: %s\n", problem))
	sb.WriteString(fmt.Sprintf("Module domain: %s\n", hint))
	if round == 2 && len(prior) > 0 {
		if len(prior) > 3 {
			prior = prior[:3]
		}
		sb.WriteString(fmt.Sprintf("Round 1 key findings to verify or investigate further: %s\n", strings.Join(prior, "; ")))
	}
	sb.WriteString("Generate queries that help this module produce well-sourced analysis.")

	return system, sb.String()
}

func conflictQueryPrompt(problem, topic, description string) (string, string) {
	system := "You are a research assistant. Generate 3-4 focused web search queries " +
		"to find evidence that resolves a specific conflict or validates a critical " +
		"finding. Queries should seek concrete data, precedents, or expert consensus. " +
		"Return ONLY a JSON object with a \"queries\" key containing an array of query strings."

	user := fmt.Sprintf("Problem: %s\nConflict/issue topic: %s\nDescription: %s\n"+
		"Generate queries to find evidence that would resolve this conflict or "+
		"validate/refute this critical finding.", problem, topic, description)

	return system, user
}
