package main

import (
	"os"
	"strings"
	"time"

	"tableside/internal/config"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string

	cfg    *config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:   "tableside",
		Short: "Restaurant seating, waiting list and billing service",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; the environment may already be set.
			_ = godotenv.Load()

			if configPath == "" {
				configPath = os.Getenv("TABLESIDE_CONFIG")
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger = newLogger(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $TABLESIDE_CONFIG or configs/config.yaml)")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd, tablesCmd)
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "json" {
		return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
