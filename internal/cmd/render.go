package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"gopkg.in/yaml.v3"

	"github.com/rand/mediate/internal/model"
)

// Output formats.
const (
	FormatHuman = "human"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const wrapWidth = 88

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	bodyStyle    = lipgloss.NewStyle().Width(wrapWidth)
	indentStyle  = lipgloss.NewStyle().PaddingLeft(2).Width(wrapWidth)
	redStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	yellowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	greenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379"))
	warningStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#E5C07B"))
)

func parseFormat(s string) (string, error) {
	switch s {
	case FormatHuman, FormatJSON, FormatYAML:
		return s, nil
	case "":
		return FormatHuman, nil
	}
	return "", fmt.Errorf("unknown output format %q (want human, json or yaml)", s)
}

// writeAnalysis writes fa in format. rounds adds the per-round module
// summaries to human output.
func writeAnalysis(w io.Writer, fa model.FinalAnalysis, format string, rounds bool) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(fa)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(fa); err != nil {
			return err
		}
		return encoder.Close()
	default:
		_, err := lipgloss.Fprint(w, renderHuman(fa, rounds))
		return err
	}
}

func renderHuman(fa model.FinalAnalysis, rounds bool) string {
	var sb strings.Builder
	section := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render(title))
		sb.WriteString("\n")
	}

	sb.WriteString(titleStyle.Render("MEDIATED ANALYSIS"))
	sb.WriteString("\n")
	sb.WriteString(bodyStyle.Render(fa.Problem))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Modules: %s\n", joinOrNone(fa.ActiveModules)))
	if len(fa.DeactivatedModules) > 0 {
		sb.WriteString(fmt.Sprintf("Deactivated: %s\n", strings.Join(fa.DeactivatedModules, ", ")))
	}
	if meta := fa.SelectionMetadata; meta != nil {
		mode := "auto-selected"
		if !meta.AutoSelected {
			mode = "default roster (selection unavailable)"
		}
		sb.WriteString(dimStyle.Render(fmt.Sprintf("Selection: %s", mode)))
		sb.WriteString("\n")
		for _, m := range meta.AdHocModules {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("  + ad-hoc module %s", m.Name)))
			sb.WriteString("\n")
		}
	}

	if rounds {
		for _, round := range []int{1, 2} {
			outputs := fa.RoundOutputs(round)
			if len(outputs) == 0 {
				continue
			}
			section(fmt.Sprintf("Round %d", round))
			for _, o := range outputs {
				sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(o.ModuleName)))
				sb.WriteString(indentStyle.Render(o.Analysis.Summary()))
				sb.WriteString("\n")
				for _, f := range o.Flags {
					sb.WriteString("  ")
					sb.WriteString(renderFlag(f))
					sb.WriteString("\n")
				}
			}
		}
	}

	if len(fa.ModuleOutputs) == 0 {
		sb.WriteString("\n")
		sb.WriteString(warningStyle.Render("No module produced an analysis."))
		sb.WriteString("\n")
		writeDisclaimer(&sb, fa)
		return sb.String()
	}

	section("Synthesis")
	if fa.Synthesis == "" {
		sb.WriteString(warningStyle.Render("Synthesis unavailable; see the module analyses (--rounds)."))
	} else {
		sb.WriteString(bodyStyle.Render(fa.Synthesis))
	}
	sb.WriteString("\n")

	if len(fa.Conflicts) > 0 {
		section("Conflicts")
		for _, c := range fa.Conflicts {
			sb.WriteString(fmt.Sprintf("%s %s (%s)\n", renderSeverity(c.Severity), c.Topic, strings.Join(c.Modules, " vs ")))
			if c.Description != "" {
				sb.WriteString(indentStyle.Render(c.Description))
				sb.WriteString("\n")
			}
		}
	}

	if len(fa.PriorityFlags) > 0 {
		section("Priority flags")
		for _, f := range fa.PriorityFlags {
			sb.WriteString(renderFlag(f))
			sb.WriteString("\n")
		}
	}

	if len(fa.Recommendations) > 0 {
		section("Recommendations")
		for i, r := range fa.Recommendations {
			sb.WriteString(bodyStyle.Render(fmt.Sprintf("%d. %s", i+1, r)))
			sb.WriteString("\n")
		}
	}

	if len(fa.ConflictResolutions) > 0 {
		section("Deep research")
		for _, r := range fa.ConflictResolutions {
			sb.WriteString(fmt.Sprintf("%s %s\n", renderSeverity(r.Severity), r.Topic))
			sb.WriteString(indentStyle.Render("Verdict: " + r.Verdict))
			sb.WriteString("\n")
			if r.UpdatedRecommendation != "" {
				sb.WriteString(indentStyle.Render("Recommendation: " + r.UpdatedRecommendation))
				sb.WriteString("\n")
			}
		}
	}

	writeDisclaimer(&sb, fa)

	if len(fa.Sources) > 0 {
		section("Sources")
		for i, s := range fa.Sources {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("[%d] %s", i+1, s)))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("run %s · %s · %d in / %d out tokens · %d sources claimed, %d dropped",
		fa.RunID, fa.Duration.Round(time.Millisecond), fa.Usage.TotalInput(), fa.Usage.TotalOutput(),
		fa.ClaimedSourceCount, fa.DroppedSourceCount)))
	sb.WriteString("\n")
	return sb.String()
}

func writeDisclaimer(sb *strings.Builder, fa model.FinalAnalysis) {
	if fa.DeactivatedDisclaimer == "" {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(warningStyle.Width(wrapWidth).Render(fa.DeactivatedDisclaimer))
	sb.WriteString("\n")
}

func renderFlag(flag string) string {
	lower := strings.ToLower(strings.TrimSpace(flag))
	switch {
	case strings.HasPrefix(lower, model.FlagRed):
		return redStyle.Render("● " + flag)
	case strings.HasPrefix(lower, model.FlagYellow):
		return yellowStyle.Render("● " + flag)
	case strings.HasPrefix(lower, model.FlagGreen):
		return greenStyle.Render("● " + flag)
	}
	return "● " + flag
}

func renderSeverity(s model.Severity) string {
	label := "[" + strings.ToUpper(string(s)) + "]"
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return redStyle.Render(label)
	case model.SeverityMedium:
		return yellowStyle.Render(label)
	}
	return dimStyle.Render(label)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
