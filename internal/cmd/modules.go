package cmd

import (
	"encoding/json"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/rand/mediate/internal/perspective"
)

func init() {
	modulesCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

type moduleInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List available analysis modules",
	Long:  "List every built-in module. Default modules run when auto-select is off; the rest are in the auto-select pool.",
	Example: `
# List modules
mediate modules

# As JSON
mediate modules --json
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		var infos []moduleInfo
		for _, d := range perspective.Catalog() {
			infos = append(infos, moduleInfo{
				Name:        d.Name,
				Description: d.Description,
				Default:     perspective.IsDefault(d.Name),
			})
		}

		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(infos)
		}

		for _, m := range infos {
			marker := "(auto-select pool)"
			if m.Default {
				marker = "(default)"
			}
			lipgloss.Fprintf(out, "%-12s %-19s %s\n", m.Name, marker, dimStyle.Render(m.Description))
		}
		return nil
	},
}
