package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"roster/internal/platform/config"
	"roster/internal/platform/logger"
)

var version = "dev"

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "roster",
		Short:         "Volunteer event participation service",
		Long:          `Registers volunteers for event shifts, tracks geofenced attendance and decides certificate eligibility.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")

	load := func() (*config.Config, error) {
		return config.Load(envFile)
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(closeEventCmd(load))
	rootCmd.AddCommand(tokenCmd(load))
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)

func newLogger(cfg *config.Config) *slog.Logger {
	return logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
}
