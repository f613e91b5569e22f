package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mj1618/smartscript/internal/config"
	"github.com/mj1618/smartscript/internal/output"
	"github.com/mj1618/smartscript/internal/version"
)

// appConfig is loaded before any subcommand runs.
var appConfig = config.Default()

var rootCmd = &cobra.Command{
	Use:          "smartscript",
	Short:        "Run automation scripts against Android devices",
	Long:         "A CLI tool that runs YAML automation scripts with loops, branches, retries and verification against Android devices over adb or SSH.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.Commit, version.BuildDate)
	rootCmd.PersistentFlags().String("format", "yaml", "Output format: yaml, json")
	rootCmd.PersistentFlags().Bool("pretty", false, "Indent JSON output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./"+config.FileName+" if present)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text, json")
	rootCmd.PersistentPreRunE = setup
}

// setup loads configuration and configures output and logging.
func setup(cmd *cobra.Command, args []string) error {
	flags := rootCmd.PersistentFlags()

	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format, _ := flags.GetString("log-format"); format != "" {
		cfg.LogFormat = format
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	appConfig = cfg

	format, _ := flags.GetString("format")
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	output.OutputFormat = f
	output.PrettyOutput, _ = flags.GetBool("pretty")
	return nil
}
