package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/mediate/internal/config"
)

// isolate runs the test in an empty directory with provider keys unset.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{config.EnvAnthropicKey, config.EnvOpenRouterKey, config.EnvTavilyKey, config.EnvProvider, config.EnvModel} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return dir
}

// execute runs the root command with args and resets the boolean and string
// flags of the touched commands afterwards.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		for _, c := range []*cobra.Command{rootCmd, analyzeCmd, modulesCmd, configShowCmd} {
			resetFlags(c.Flags())
			resetFlags(c.PersistentFlags())
		}
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "bool", "string":
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

func TestConfigShow_YAML(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFile), []byte("analysis:\n  deep_research: true\n"), 0o644))

	out, err := execute(t, "config", "show", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "provider:")
	assert.Contains(t, out, "deep_research: true")
	assert.NotContains(t, out, "AnthropicAPIKey")
}

func TestConfigShow_JSONOmitsKeys(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvAnthropicKey, "sk-ant-secret-value")

	out, err := execute(t, "config", "show", "--json")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "analysis")
	assert.NotContains(t, out, "sk-ant-secret-value")
}

func TestConfigShow_Human(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvAnthropicKey, "sk-ant-secret-value")

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Effective Configuration")
	assert.NotContains(t, out, "\x1b[", "no escape sequences when not writing to a terminal")
	assert.Contains(t, out, "sk-ant-s...")
	assert.NotContains(t, out, "secret-value")
	assert.Contains(t, out, "market, cost, risk")
}

func TestConfigValidate(t *testing.T) {
	t.Run("warnings only", func(t *testing.T) {
		isolate(t)
		out, err := execute(t, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "No model provider key found")
		assert.Contains(t, out, "valid with warnings")
	})

	t.Run("invalid file", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFile), []byte("search:\n  backend: bing\n"), 0o644))

		out, err := execute(t, "config", "validate")
		require.Error(t, err)
		assert.Contains(t, out, "✗")
		assert.Contains(t, out, "bing")
	})
}

func TestConfigPath(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("X=1\n"), 0o644))

	out, err := execute(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Environment file")
	assert.Contains(t, out, "✗ Config file")
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "properties")
}

func TestModules(t *testing.T) {
	out, err := execute(t, "modules")
	require.NoError(t, err)
	assert.Contains(t, out, "market")
	assert.Contains(t, out, "(default)")
	assert.Contains(t, out, "(auto-select pool)")
	assert.NotContains(t, out, "\x1b[")
}

func TestModules_JSON(t *testing.T) {
	out, err := execute(t, "modules", "--json")
	require.NoError(t, err)

	var infos []moduleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.NotEmpty(t, infos)

	defaults := 0
	for i, m := range infos {
		if i > 0 {
			assert.Less(t, infos[i-1].Name, m.Name, "sorted by name")
		}
		if m.Default {
			defaults++
		}
	}
	assert.Equal(t, 3, defaults)
}

func TestAnalyze_RequiresProvider(t *testing.T) {
	isolate(t)

	_, err := execute(t, "analyze", "--quiet", "Launch a coffee subscription")
	assert.ErrorIs(t, err, errNoProvider)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(not set)", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcdefgh...", maskKey("abcdefghijkl"))
}
