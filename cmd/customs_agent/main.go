// Package main provides the entry point for the customs declaration lookup agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/config"
	"github.com/jonathan/customs-lookup/internal/observability"
)

var (
	configPath string
	verbose    bool

	// Set by the root command before any subcommand runs.
	appCfg  *config.Config
	logger  = zap.NewNop()
	printer = observability.NewPrinter(os.Stdout)
)

var rootCmd = &cobra.Command{
	Use:   "customs_agent",
	Short: "Customs declaration lookup with a self-improving CAPTCHA solver",
	Long: `customs_agent looks up customs declarations on the public portal, answering its CAPTCHA with a local model.
Rejected CAPTCHAs are archived, re-read by consensus review, and fed back into training.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(_ *cobra.Command, _ []string) { _ = logger.Sync() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (defaults are used when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print debug logs")
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}
	appCfg = cfg

	l, err := observability.NewLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = l
	printer = observability.NewPrinter(cmd.OutOrStdout())
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
