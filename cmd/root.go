/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyward/apiserver/config"
	"github.com/keyward/apiserver/internal/logging"
)

const serviceName = "keyward"

// version is set at build time with -ldflags "-X github.com/keyward/apiserver/cmd.version=...".
var version = "dev"

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "keyward",
	Short:         "Account registration, login and password reset service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP listen port")
	rootCmd.PersistentFlags().String("log-format", "json", "log format: json or text")
	rootCmd.PersistentFlags().String("store", config.StorePostgres, "account store: postgres or memory")
}

// loadConfig reads the configuration for cmd and installs the process
// logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.Setup(serviceName, version, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
