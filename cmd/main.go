/**
 * @description
 * This is the main entry point for the disbursement-service. The binary exposes three
 * commands:
 *   serve      runs the HTTP API, the donation consumer and the reconciliation scheduler
 *   reconcile  runs one reconciliation pass and prints its report
 *   keygen     prints a fresh ledger account address and secret seed
 *
 * @dependencies
 * - github.com/spf13/cobra: command line structure.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - go.uber.org/zap: structured logging.
 */

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "disbursement-service",
	Short: "Campaign disbursement lifecycle and multi-signature settlement",
	Long: `disbursement-service tracks donations into campaign ledger accounts, runs
disbursement requests through multi-party approval and settles approved
disbursements as multi-signature ledger payments.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory holding an optional .env file")
}

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, relying on environment variables")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds a JSON production logger, or a console development logger when
// LOG_FORMAT=console.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var parsed zapcore.Level
	if err := parsed.Set(level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("service", "disbursement-service")), nil
}
