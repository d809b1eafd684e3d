package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wastedesk/backend/internal/config"
	"wastedesk/backend/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd serves the API when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "spillaged",
	Short: "Spillage logging backend for the café point of sale.",
	Long: `spillaged records spilled or wasted products against the cashier session
that sold them, and keeps merchandise, ingredient and material stock in step.

Settings come from $HOME/.spillaged.yaml (or --config) and from environment
variables named after the keys, e.g. AUTH_SECRET or POS_BASE_URL.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spillaged.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "loglevel", "l", "", "Set log level. Available: debug, info, warn, error, fatal")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(createUserCmd)
}

// loadRuntime reads the effective config and builds the logger. The
// --loglevel flag wins over the config file and LOG_LEVEL.
func loadRuntime() (config.Config, *logrus.Logger, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg := config.Load(v)
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, log, nil
}
