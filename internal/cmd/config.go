package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rand/mediate/internal/config"
)

func init() {
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(
		configShowCmd,
		configEditCmd,
		configValidateCmd,
		configPathCmd,
		configSchemaCmd,
	)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing mediate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the current effective configuration after merging defaults, the config file and the environment",
	Example: `
# Show config in human-readable format
mediate config show

# Show config as YAML
mediate config show --yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		}
		if asYAML {
			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			return encoder.Encode(cfg)
		}

		lipgloss.Fprintln(out, headerStyle.Render("Effective Configuration"))
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Provider:")
		fmt.Fprintf(out, "  Name:              %s\n", cfg.Provider.Name)
		if cfg.Provider.Model != "" {
			fmt.Fprintf(out, "  Model:             %s\n", cfg.Provider.Model)
		}
		fmt.Fprintf(out, "  Max Tokens:        %d\n", cfg.Provider.MaxTokens)
		fmt.Fprintf(out, "  Anthropic Key:     %s\n", maskKey(cfg.AnthropicAPIKey))
		fmt.Fprintf(out, "  OpenRouter Key:    %s\n", maskKey(cfg.OpenRouterAPIKey))
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Analysis:")
		fmt.Fprintf(out, "  Modules:           %s\n", joinOrNone(cfg.Analysis.Modules))
		for name, w := range cfg.Analysis.Weights {
			fmt.Fprintf(out, "  Weight:            %s=%g\n", name, w)
		}
		fmt.Fprintf(out, "  Auto Select:       %v\n", cfg.Analysis.AutoSelect)
		fmt.Fprintf(out, "  Deep Research:     %v\n", cfg.Analysis.DeepResearch)
		fmt.Fprintf(out, "  RACI:              %v\n", cfg.Analysis.RACI)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Search:")
		fmt.Fprintf(out, "  Enabled:           %v\n", cfg.Search.Enabled)
		fmt.Fprintf(out, "  Backend:           %s\n", cfg.Search.Backend)
		fmt.Fprintf(out, "  Tavily Key:        %s\n", maskKey(cfg.TavilyAPIKey))
		fmt.Fprintln(out)

		fmt.Fprintln(out, "Logging:")
		fmt.Fprintf(out, "  Level:             %s\n", cfg.Log.Level)
		if cfg.Log.File != "" {
			fmt.Fprintf(out, "  File:              %s\n", cfg.Log.File)
		}
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  "Open the configuration file in your default editor, creating it from a template if needed",
	Example: `
# Edit config with $EDITOR
mediate config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath(cmd)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
				return fmt.Errorf("create default config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created new config file: %s\n", path)
		}

		execCmd, err := editor.Cmd("mediate", path)
		if err != nil {
			return fmt.Errorf("open editor: %w", err)
		}
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr
		return execCmd.Run()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Check the configuration for errors and warnings",
	Example: `
# Validate configuration
mediate config validate
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(out, "✗ Configuration error: %v\n", err)
			return err
		}

		var warnings []string
		if !cfg.HasProvider() {
			warnings = append(warnings, "No model provider key found; analyze needs ANTHROPIC_API_KEY or OPENROUTER_API_KEY")
		}
		if cfg.Search.Enabled && cfg.TavilyAPIKey == "" && cfg.Search.Backend != "duckduckgo" {
			warnings = append(warnings, "TAVILY_API_KEY not set; search falls back to DuckDuckGo")
		}

		verr := cfg.Validate()
		if verr != nil {
			fmt.Fprintln(out, "Errors:")
			fmt.Fprintf(out, "  ✗ %v\n", verr)
		}
		if len(warnings) > 0 {
			fmt.Fprintln(out, "Warnings:")
			for _, w := range warnings {
				fmt.Fprintf(out, "  ⚠ %s\n", w)
			}
		}

		switch {
		case verr != nil:
			return verr
		case len(warnings) == 0:
			fmt.Fprintln(out, "✓ Configuration is valid")
		default:
			fmt.Fprintln(out, "\n✓ Configuration is valid with warnings")
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Long:  "Display the files configuration is loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration sources (later entries override earlier ones):")
		fmt.Fprintln(out)

		paths := []struct{ name, path string }{
			{"Environment file", ".env"},
			{"Config file", configFilePath(cmd)},
		}
		for _, p := range paths {
			status := "✗"
			if _, err := os.Stat(p.path); err == nil {
				status = "✓"
			}
			abs, err := filepath.Abs(p.path)
			if err != nil {
				abs = p.path
			}
			fmt.Fprintf(out, "  %s %s\n    %s\n", status, p.name, abs)
		}
		fmt.Fprintln(out, "  ✓ Process environment")
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the config file JSON schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return err
	},
}

func configFilePath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.DefaultFile
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return "****"
	}
	return key[:8] + "..."
}

const configTemplate = `# mediate configuration
# Provider keys are read from the environment or .env:
#   ANTHROPIC_API_KEY, OPENROUTER_API_KEY, TAVILY_API_KEY

# provider:
#   name: auto            # auto, anthropic, openrouter
#   model: claude-sonnet-4-20250514
#   max_tokens: 4096

# analysis:
#   modules: [market, cost, risk]
#   weights:
#     legal: 2
#     cost: 0             # 0 deactivates a module
#   auto_select: false
#   deep_research: false
#   raci: false

# search:
#   enabled: true
#   backend: auto         # auto, tavily, duckduckgo

# log:
#   level: warn
#   file: mediate.log
`
