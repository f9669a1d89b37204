package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/search"
)

// SynthesisInput carries everything the synthesis prompt needs.
type SynthesisInput struct {
	Problem     string
	Outputs     []model.ModuleOutput
	Weights     map[string]float64
	Deactivated []string
	RACI        model.RACIMatrix

	// GlobalSources is the pre-merged source list. When non-empty the model
	// must cite from it and return an empty sources array.
	GlobalSources []string

	Context *search.Context
}

// Synthesis builds the synthesis prompt.
func Synthesis(in SynthesisInput) (string, string) {
	system := "You are a senior strategic advisor synthesizing multiple expert analyses. " +
		"Identify conflicts between modules, surface critical flags, and produce " +
		"actionable recommendations. " + JSONOnly

	var instructions strings.Builder
	if hasActiveWeights(in.Weights) {
		instructions.WriteString("\n\nModules with higher weights should carry proportionally more " +
			"influence in your synthesis and recommendations.")
	}

	var disclaimerField string
	if len(in.Deactivated) > 0 {
		instructions.WriteString(fmt.Sprintf("\n\nIMPORTANT: The following modules were deactivated by the user: %s. "+
			"You MUST include a disclaimer in your synthesis AND in the dedicated "+
			`"deactivated_disclaimer" field stating which modules were deactivated `+
			"and that their perspectives are not reflected in this analysis.",
			strings.Join(in.Deactivated, ", ")))
		disclaimerField = `  "deactivated_disclaimer": "Disclaimer noting which modules were deactivated and that their analysis is absent",` + "\n"
	}

	if len(in.RACI) > 0 {
		instructions.WriteString("\n\n")
		instructions.WriteString(FormatRACI(in.RACI))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Original problem:\n%s\n\n", in.Problem))
	sb.WriteString("All module analyses (Rounds 1 and 2):\n\n")
	sb.WriteString(FormatOutputs(in.Outputs, in.Weights, false))
	sb.WriteString("\n\n")
	sb.WriteString(contextSection(in.Context))

	n := len(in.GlobalSources)
	if n > 0 {
		sb.WriteString(fmt.Sprintf("CONSOLIDATED SOURCE LIST (these are the ONLY valid sources, already numbered [1]-[%d]):\n", n))
		for i, s := range in.GlobalSources {
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, s))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Synthesize these analyses into a final assessment.\n\n")
	sb.WriteString(instructions.String())
	sb.WriteString("\n\nReturn your response as a JSON object with exactly these fields:\n{\n")
	sb.WriteString(disclaimerField)
	sb.WriteString(`  "conflicts": [` + "\n")
	sb.WriteString(`    {"modules": ["market", "cost"], "topic": "burn rate", "description": "Market sees high demand but cost flags high burn rate [1][2]", "severity": "high"},` + "\n")
	sb.WriteString("    ...\n  ],\n")
	sb.WriteString(`  "synthesis": "Overall synthesized assessment paragraph with inline citations [1][2]",` + "\n")
	sb.WriteString(`  "recommendations": ["recommendation 1 [3]", ...],` + "\n")
	sb.WriteString(`  "priority_flags": ["red: critical issue [1]", "yellow: caution", "green: positive"],` + "\n")
	if n > 0 {
		sb.WriteString(`  "sources": []` + "\n")
	} else {
		sb.WriteString(`  "sources": ["1. Title — URL", "2. Title — URL", ...]` + "\n")
	}
	sb.WriteString("}\n\n")

	switch {
	case n > 0:
		sb.WriteString(fmt.Sprintf("CRITICAL: Only cite sources using the numbers [1]-[%d] from the "+
			"Consolidated Source List above. Do NOT invent or add new sources. "+
			`Your "sources" array MUST BE EMPTY, all sources are already listed above.`, n))
	default:
		sb.WriteString("IMPORTANT: Use numbered inline citations like [1], [2], etc. within your " +
			"synthesis, conflicts, recommendations, and flags to reference specific sources. " +
			"Each citation number must correspond to the matching numbered entry in the " +
			`"sources" array. Every claim backed by data should have a citation.`)
		if !in.Context.Empty() {
			sb.WriteString(" Only cite sources from the Grounded Research Context provided above. " +
				`Do not fabricate new sources. Your "sources" array must only contain ` +
				"entries from that list (title + URL).")
		}
	}

	return system, sb.String()
}

func hasActiveWeights(weights map[string]float64) bool {
	for _, w := range weights {
		if w != 0 {
			return true
		}
	}
	return false
}

// FormatRACI renders the responsibility matrix as a markdown table with
// topics sorted for stable prompts.
func FormatRACI(raci model.RACIMatrix) string {
	topics := make([]string, 0, len(raci))
	for t := range raci {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	var sb strings.Builder
	sb.WriteString("RACI MATRIX (use this to resolve conflicts and prioritize recommendations):\n")
	sb.WriteString("| Topic | Responsible | Accountable | Consulted | Informed |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, t := range topics {
		r := raci[t]
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			t, r.Responsible, r.Accountable, strings.Join(r.Consulted, ", "), strings.Join(r.Informed, ", ")))
	}
	sb.WriteString("When modules disagree, the Accountable module's position should carry the most " +
		"weight for that topic. Consulted modules provide secondary input. " +
		"Informed modules are noted but should not override the Accountable module.")
	return sb.String()
}
