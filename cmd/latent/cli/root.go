// Package cli implements the latent command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nbursa/latent-journey-sub000/internal/config"
	"github.com/nbursa/latent-journey-sub000/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "latent",
	Short: "Latent space explorer for perception events",
	Long: `latent embeds vision, speech and memory events, projects them to 2D/3D,
clusters them and groups them by source, time and emotion.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfigFile(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		if logFormat != "" {
			loaded.Log.Format = logFormat
		}
		cfg = loaded

		if cfg.Log.Format == "json" {
			logger = logging.NewJSON(cfg.Log.Level, cmd.ErrOrStderr())
		} else {
			logger = logging.New(cfg.Log.Level, cmd.ErrOrStderr())
		}
		logging.SetDefault(logger)
		cmd.SetContext(logging.With(cmd.Context(), logger))
		return nil
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables still override)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")

	RootCmd.AddCommand(exploreCmd)
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(embedCmd)
	RootCmd.AddCommand(importCmd)
	RootCmd.AddCommand(backupCmd)
}
