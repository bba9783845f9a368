package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/productflow/internal/config"
	"github.com/aretw0/productflow/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "productflow",
	Short: "Productflow orchestrates multi-step product onboarding sessions",
	Long: `Productflow collects a product definition and its audience targeting
across several requests, then commits both records to the record store
with retries and compensation.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// The command context is cancelled on interrupt or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (debug, info, warn, error)")
}

// loadConfig reads the configuration named by --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return nil, err
		}
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to Stderr so Stdout
// stays free for command output and the MCP stdio transport.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewWithFormat(os.Stderr, level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return logger
}
