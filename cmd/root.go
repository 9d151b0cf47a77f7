package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/interleave-sct/interleave/sct"
)

var (
	logLevel   string // Log verbosity level
	configPath string // YAML scheduler configuration
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "interleave",
	Short: "Systematic concurrency-testing scheduler",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("%v", err)
	}
}

// resolveConfigPath returns --config, falling back to the environment.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv(sct.ConfigEnv)
}

// loadConfig decodes the configuration file if one is selected. Validation happens when the
// session is created, after command-line overrides.
func loadConfig(path string) (*sct.Config, error) {
	if path == "" {
		return &sct.Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return sct.DecodeConfig(data)
}

// configureLogging applies log_level and log_file. An explicit --log wins over log_level.
// The returned function closes the log file, if any.
func configureLogging(cfg *sct.Config, levelFromFlag bool) (func() error, error) {
	if cfg.LogLevel != "" && !levelFromFlag {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
		logrus.SetLevel(level)
	}
	switch cfg.LogFile {
	case "":
		return func() error { return nil }, nil
	case "-":
		logrus.SetOutput(os.Stdout)
		return func() error { return nil }, nil
	case "--":
		logrus.SetOutput(os.Stderr)
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log_file: %w", err)
	}
	logrus.SetOutput(f)
	return func() error {
		logrus.SetOutput(os.Stderr)
		return f.Close()
	}, nil
}

// printf writes to the command output, ignoring write errors like fmt.Printf does.
func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Scheduler YAML config (default $"+sct.ConfigEnv+")")
}
