package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/rand/mediate/internal/model"
	"github.com/rand/mediate/internal/search"
)

//go:embed analyze_module.md
var analyzeModuleDescription string

// PoolEntry describes one selectable module.
type PoolEntry struct {
	Name        string
	Description string
}

func formatPool(pool []PoolEntry) string {
	lines := make([]string, len(pool))
	for i, e := range pool {
		lines[i] = fmt.Sprintf("- %s: %s", e.Name, e.Description)
	}
	return strings.Join(lines, "\n")
}

// Selection builds the adaptive module-selection prompt.
func Selection(problem string, pool []PoolEntry) (string, string) {
	system := "You are an expert at scoping multi-perspective analyses. " +
		"Given a problem, you select which analysis modules are relevant. " + JSONOnly

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Problem to analyze:\n%s\n\n", problem))
	sb.WriteString(fmt.Sprintf("Available analysis modules:\n%s\n\n", formatPool(pool)))
	sb.WriteString("Select 3-7 modules that are most relevant to this problem. " +
		"Only include modules whose perspective adds meaningful value.\n\n")
	sb.WriteString("Return your response as a JSON object with exactly these fields:\n{\n")
	sb.WriteString(`  "selected_modules": ["module1", "module2", ...],` + "\n")
	sb.WriteString(`  "reasoning": "Brief explanation of why these modules were selected"` + "\n}")
	return system, sb.String()
}

// GapCheck builds the prompt that may propose ad-hoc modules.
func GapCheck(problem string, selected []string, pool []PoolEntry) (string, string) {
	system := "You are an expert at identifying analytical blind spots. " +
		"Given a problem and a set of selected analysis modules, check whether " +
		"any important perspectives are missing. " + JSONOnly

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Problem to analyze:\n%s\n\n", problem))
	sb.WriteString(fmt.Sprintf("Already selected modules: %s\n\n", strings.Join(selected, ", ")))
	sb.WriteString(fmt.Sprintf("Full pool of available modules:\n%s\n\n", formatPool(pool)))
	sb.WriteString("Check if any significant analytical gaps remain. If so, you may propose " +
		"up to 3 ad-hoc modules with custom system prompts to fill those gaps. " +
		"Only propose ad-hoc modules if the gap is significant and not covered by " +
		"the selected modules.\n\n")
	sb.WriteString("Return your response as a JSON object with exactly these fields:\n{\n")
	sb.WriteString(`  "gaps_identified": true/false,` + "\n")
	sb.WriteString(`  "reasoning": "Explanation of gaps found or why coverage is sufficient",` + "\n")
	sb.WriteString(`  "ad_hoc_modules": [` + "\n")
	sb.WriteString(`    {"name": "module_name", "system_prompt": "You are a ... expert. Evaluate ..."},` + "\n")
	sb.WriteString("    ...\n  ]\n}")
	return system, sb.String()
}

// Dispatch builds the orchestrating prompt for one round.
func Dispatch(round int, modules []string) (string, string) {
	list := strings.Join(modules, ", ")
	system := "You orchestrate a parallel analysis pipeline. " +
		fmt.Sprintf("Call analyze_module once for EVERY module in a single response: %s. ", list) +
		"Do not explain or summarize. Just call the tool for each module."
	user := fmt.Sprintf("Run Round %d analysis. Call analyze_module for ALL %d modules: %s",
		round, len(modules), list)
	return system, user
}

// DispatchToolDescription describes the analyze_module tool for a round.
func DispatchToolDescription(round int) string {
	return fmt.Sprintf("Run Round %d analysis for one expert module. %s", round, strings.TrimSpace(analyzeModuleDescription))
}

// Position is one module's stance used in resolution prompts.
type Position struct {
	Module  string
	Summary string
}

// Resolution builds the deep-research prompt for one conflict or red flag.
// An item with no modules is treated as a critical flag.
func Resolution(problem, topic, description string, modules []string, positions []Position, sc *search.Context) (string, string) {
	system := "You are a research expert resolving specific conflicts and critical issues " +
		"identified in a multi-perspective analysis. Given fresh evidence from web search, " +
		"provide an evidence-based verdict and a concrete updated recommendation. " + JSONOnly

	label := "CRITICAL FLAG"
	var between string
	if len(modules) > 0 {
		label = "CONFLICT"
		between = fmt.Sprintf(" (between %s)", strings.Join(modules, " vs "))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Problem being analyzed: %s\n\n", problem))
	sb.WriteString(fmt.Sprintf("%s%s: %s\n", label, between, topic))
	sb.WriteString(fmt.Sprintf("Description: %s\n\n", description))

	for _, p := range positions {
		if p.Summary == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s MODULE POSITION:\n%s\n\n", strings.ToUpper(p.Module), p.Summary))
	}

	sb.WriteString(contextSection(sc))
	sb.WriteString(fmt.Sprintf("Based on the evidence above, resolve this %s.\n\n", strings.ToLower(label)))
	sb.WriteString("Return a JSON object with exactly these fields:\n{\n")
	sb.WriteString(`  "verdict": "Which position does the evidence support, or what does the evidence show about this issue? Be specific. Include inline citations [N].",` + "\n")
	sb.WriteString(`  "updated_recommendation": "A concrete, specific action step more precise than the original recommendations. Include inline citations [N].",` + "\n")
	sb.WriteString(`  "sources": ["1. Title — URL", ...]` + "\n}\n\n")

	if sc.Empty() {
		sb.WriteString(`No research context was provided. Your "sources" array MUST BE EMPTY. ` +
			"Do not fabricate source titles or URLs. Do not use [N] citation markers.")
	} else {
		sb.WriteString("Use [N] inline citations referencing the Grounded Research Context above. " +
			`Copy sources verbatim as "Title — URL" into the "sources" array. ` +
			"Do NOT add sources from training knowledge or memory.")
	}

	return system, sb.String()
}

// Followup builds the prompt for a question about a finished analysis.
// Round-2 summaries are preferred over round-1 ones.
func Followup(fa model.FinalAnalysis, question string) (string, string) {
	system := "You are a senior strategic advisor. You have completed a multi-perspective " +
		"analysis of a problem. Answer the user's follow-up question based strictly " +
		"on the analysis provided below. Do not introduce new facts, statistics, " +
		"market figures, or sources that are not present in the analysis. If the " +
		"analysis does not contain enough information to answer, say so explicitly."

	var modules []string
	seen := make(map[string]bool)
	for _, o := range fa.ModuleOutputs {
		if seen[o.ModuleName] {
			continue
		}
		seen[o.ModuleName] = true
		latest, _ := fa.LatestOutput(o.ModuleName)
		modules = append(modules, fmt.Sprintf("- %s: %s", o.ModuleName, latest.Analysis.Summary()))
	}

	conflicts := make([]string, len(fa.Conflicts))
	for i, c := range fa.Conflicts {
		conflicts[i] = fmt.Sprintf("- %s (%s): %s", c.Topic, strings.Join(c.Modules, ", "), c.Description)
	}

	recs := make([]string, len(fa.Recommendations))
	for i, r := range fa.Recommendations {
		recs[i] = "- " + r
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Problem: %s\n\n", fa.Problem))
	sb.WriteString(fmt.Sprintf("Synthesis:\n%s\n\n", fa.Synthesis))
	sb.WriteString(fmt.Sprintf("Module summaries:\n%s\n\n", strings.Join(modules, "\n")))
	sb.WriteString(fmt.Sprintf("Conflicts:\n%s\n\n", strings.Join(conflicts, "\n")))
	sb.WriteString(fmt.Sprintf("Recommendations:\n%s\n\n", strings.Join(recs, "\n")))
	if len(fa.ConflictResolutions) > 0 {
		res := make([]string, len(fa.ConflictResolutions))
		for i, r := range fa.ConflictResolutions {
			res[i] = fmt.Sprintf("- %s: %s", r.Topic, r.Verdict)
		}
		sb.WriteString(fmt.Sprintf("Deep research verdicts:\n%s\n\n", strings.Join(res, "\n")))
	}
	sb.WriteString(fmt.Sprintf("Follow-up question: %s", question))
	return system, sb.String()
}
