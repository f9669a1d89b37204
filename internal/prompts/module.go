// Package prompts builds the (system, user) prompt pairs sent to the
// reasoning service. Every builder is a pure function of its inputs.
package prompts

import (
	"fmt"
	"strings"

	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/search"
)

// JSONOnly is appended to system prompts that expect a JSON reply.
const JSONOnly = "Respond with ONLY valid JSON, no other text."

func moduleJSONInstruction(hasContext bool) string {
	sourcesField := `"sources": ["1. Title — https://url", "2. Title — https://url", ...]`
	sourcesRule := `SOURCES (STRICT): Your "sources" array must contain ONLY entries copied ` +
		`verbatim from the Grounded Research Context above, Title and full URL exactly ` +
		`as listed. Do NOT add sources from training knowledge or memory. ` +
		`Every specific statistic, percentage, market figure, date, or named claim ` +
		`MUST have an inline [N] citation from the provided context. ` +
		`Unsupported claims must be omitted or prefixed with "(unverified)".`
	if !hasContext {
		sourcesField = `"sources": []`
		sourcesRule = `SOURCES (STRICT): No research context was provided, so your "sources" array ` +
			`MUST BE EMPTY. Do not fabricate source titles, URLs, or publication names. ` +
			`Do not use inline [N] citation markers. Analytical judgements are fine; ` +
			`invented citations are not.`
	}

	var sb strings.Builder
	sb.WriteString("Return your response as a JSON object with exactly these fields:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "analysis": {` + "\n")
	sb.WriteString(`    "summary": "Brief overall assessment",` + "\n")
	sb.WriteString(`    "key_findings": ["finding 1 [1]", "finding 2 [2]", ...],` + "\n")
	sb.WriteString(`    "opportunities": ["opportunity 1 [3]", ...],` + "\n")
	sb.WriteString(`    "risks": ["risk 1 [4]", ...]` + "\n")
	sb.WriteString("  },\n")
	sb.WriteString(`  "flags": ["red: critical issue [1]", "yellow: caution [2]", "green: positive signal"],` + "\n")
	sb.WriteString(fmt.Sprintf("  %s\n", sourcesField))
	sb.WriteString("}\n\n")
	sb.WriteString(sourcesRule)
	sb.WriteString("\n\nCONCISENESS: Maximum 5 items per array. One sentence per item. Omit minor points.")
	return sb.String()
}

func contextSection(sc *search.Context) string {
	if sc.Empty() {
		return ""
	}
	return sc.Format() + "\n\n"
}

// Round1 builds the independent-analysis prompt.
func Round1(systemPrompt, problem string, sc *search.Context) (string, string) {
	var sb strings.Builder
	sb.WriteString("Analyze this problem/idea independently:\n\n")
	sb.WriteString(problem)
	sb.WriteString("\n\n")
	sb.WriteString(contextSection(sc))
	sb.WriteString(moduleJSONInstruction(!sc.Empty()))
	return systemPrompt, sb.String()
}

const round2Addendum = "\n\nYou are now in Round 2. You have seen the other modules' Round 1 analyses. " +
	"Revise your analysis considering their perspectives. Note any agreements, " +
	"disagreements, or new insights from cross-module review. " +
	"IMPORTANT: Do not introduce new specific statistics, percentages, version numbers, " +
	"dates, or named metrics that are not present in your Round 1 analysis or in the " +
	"Grounded Research Context provided below. Any new concrete figure you include MUST " +
	"have an inline [N] citation from that context. Do not invent numbers from training " +
	"memory. Do not soften or retract critical findings from your Round 1 analysis. " +
	"If you disagree with other modules, state the disagreement explicitly."

// Round2 builds the informed-revision prompt. Peers naming module itself are
// skipped.
func Round2(module, systemPrompt, problem string, peers []model.ModuleOutput, sc *search.Context) (string, string) {
	others := make([]model.ModuleOutput, 0, len(peers))
	for _, p := range peers {
		if p.ModuleName != module {
			others = append(others, p)
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Original problem:\n%s\n\n", problem))
	sb.WriteString("Other modules' Round 1 analyses:\n\n")
	sb.WriteString(FormatOutputs(others, nil, true))
	sb.WriteString("\n\n")
	sb.WriteString(contextSection(sc))
	sb.WriteString(fmt.Sprintf("Now provide your revised analysis for the %s perspective.\n\n", module))
	sb.WriteString(moduleJSONInstruction(!sc.Empty()))
	return systemPrompt + round2Addendum, sb.String()
}

// FormatOutputs renders module outputs for inclusion in a prompt. Brief
// output carries only summary and flags; weights other than 1 are shown in
// the section header.
func FormatOutputs(outputs []model.ModuleOutput, weights map[string]float64, brief bool) string {
	sections := make([]string, 0, len(outputs))
	for _, o := range outputs {
		header := fmt.Sprintf("--- %s MODULE", strings.ToUpper(o.ModuleName))
		if o.Round == 2 && !brief {
			header += " (Round 2)"
		}
		if w, ok := weights[o.ModuleName]; ok && w != 1 {
			header += fmt.Sprintf(" (Weight: %gx)", w)
		}
		header += " ---"

		var sb strings.Builder
		sb.WriteString(header)
		sb.WriteString("\n")
		if brief {
			sb.WriteString(fmt.Sprintf("Summary: %s\n", o.Analysis.Summary()))
		} else {
			sb.WriteString(fmt.Sprintf("Analysis:\n%s\n", o.Analysis.String()))
		}
		sb.WriteString(fmt.Sprintf("Flags: %s\n", strings.Join(o.Flags, "; ")))
		sections = append(sections, sb.String())
	}
	return strings.Join(sections, "\n")
}
