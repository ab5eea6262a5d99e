// Package cmd implements Aragora's CLI: a thin command surface mirroring
// the HTTP API, with env-loading and graceful shutdown, laid out as a
// conventional cobra tree with one binary entrypoint in cmd/aragora.
package cmd

import (
	"fmt"
	"os"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "aragora",
	Short: "Aragora - multi-agent debate platform",
	Long: `Aragora runs structured multi-agent LLM debates to consensus or
early-stop, records every step durably, and streams the unfolding debate to
connected observers over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := envFile
		if path == "" {
			path = ".env"
		}
		if err := godotenv.Load(path); err != nil && envFile != "" {
			// Only a caller-specified --config path is fatal if missing;
			// the default ".env" is optional (plain env vars still work).
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		return logging.InitDefaultLogger(logging.Config{Level: parseLogLevel(os.Getenv("LOG_LEVEL")), Colored: true})
	},
}

func parseLogLevel(v string) logging.LogLevel {
	switch v {
	case "debug":
		return logging.DEBUG
	case "warn", "warning":
		return logging.WARN
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

// Execute runs the CLI and returns the process exit code:
// 0 success, 2 bad input, 3 auth failure, 4 rate limited, 1 other.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	switch {
	case apperr.Is(err, apperr.KindInput):
		return 2
	case apperr.Is(err, apperr.KindAuth):
		return 3
	case apperr.Is(err, apperr.KindRateLimited):
		return 4
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFile, "config", "c", "", "path to a .env config file (default: ./.env if present)")
}
