// Package cmd implements the mediate command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rand/mediate/internal/config"
	"github.com/rand/mediate/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./mediate.yaml if present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this rotating file")

	rootCmd.AddCommand(
		analyzeCmd,
		modulesCmd,
		configCmd,
	)
}

var rootCmd = &cobra.Command{
	Use:   "mediate",
	Short: "Multi-perspective mediated reasoning",
	Long: `Mediate analyzes a problem or idea from several expert perspectives.

Each module analyzes the problem independently, then revises its analysis after
reading the others. A synthesis step surfaces conflicts, priority flags and
recommendations, and every citation is consolidated into one numbered source list.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	)
}

// loadConfig reads the configuration named by --config and applies the
// persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	if file, _ := cmd.Flags().GetString("log-file"); file != "" {
		cfg.Log.File = file
	}
	return cfg, nil
}

// setupLogger installs the process logger. The returned closer flushes the
// log file.
func setupLogger(cfg config.Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger, closer := logging.New(logging.Options{
		Level:      level,
		Console:    console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	slog.SetDefault(logger)
	return logger, closer, nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}
