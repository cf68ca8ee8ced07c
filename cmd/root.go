// Package cmd defines and implements the CLI commands for the shotcast executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/shotcast/internal/config"
	"github.com/JakeFAU/shotcast/internal/server"
)

// Runner is the part of the application the serve command drives.
type Runner interface {
	Run(ctx context.Context) error
}

// buildApp is the application factory. It's a variable so tests can
// replace it.
var buildApp = func(ctx context.Context, cfg *config.Config) (Runner, error) {
	return server.Build(ctx, cfg)
}

// configSearchPaths are consulted in order when --config is not given.
var configSearchPaths = []string{
	"config.yaml",
	"/etc/shotcast/config.yaml",
}

type rootOptions struct {
	configPath string
	envFile    string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "shotcast",
		Short: "Screenshot capture service with live progress over WebSocket.",
		Long: `shotcast captures screenshots of web pages on behalf of connected clients.
Clients open a WebSocket, send start and cancel commands, and receive
progress logs followed by exactly one outcome per request. Screenshots are
cached by fingerprint and counted against per-project daily ceilings.`,
		SilenceUsage: true,

		// Runs before any subcommand so that .env values are visible to Viper.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./config.yaml or /etc/shotcast/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration, ignored when missing")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFile exports the variables in path without overriding ones that are
// already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = findConfig(configSearchPaths)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func findConfig(candidates []string) string {
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Clean(c)); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}
