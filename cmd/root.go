// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface of quest. Every command that talks to a
// database goes through the execution engine: the command owns the connections and acts as
// the dispatcher for engine and liveness events.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"quest/cli/internal/config"
	"quest/cli/internal/logging"
	"quest/cli/internal/xdg"
)

var (
	showVersion bool
	verbose     bool
	flagDriver  string
	flagWorkers int
	flagPage    int
	flagLevel   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "quest",
	Short:         "Run SQL against PostgreSQL, QuestDB and CrateDB from the terminal",
	Long:          `quest executes SQL asynchronously over the PostgreSQL wire protocol, streams results in pages and keeps an eye on the connections it holds open.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("quest %s\n", Version)
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the CLI application.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage is the text printed for a failed command. DSNs end up in driver and parse
// errors, so it is masked like log output.
func errorMessage(err error) string {
	return "Error: " + logging.Mask(err.Error())
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Write logs to stderr instead of the log file")
	pf.StringVar(&flagDriver, "driver", "", "Session driver: pgx or pq")
	pf.IntVar(&flagWorkers, "workers", 0, "Maximum number of statements executing at once")
	pf.IntVar(&flagPage, "page-size", 0, "Rows fetched per response")
	pf.StringVar(&flagLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = flagDriver
	}
	if flags.Changed("workers") {
		cfg.Engine.Workers = flagWorkers
	}
	if flags.Changed("page-size") {
		cfg.Engine.PageSize = flagPage
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger returns a logger writing to the state log file, or to stderr with --verbose.
// The returned closer releases the log file.
func newLogger(level string) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stderr
	closer := func() {}
	if !verbose {
		p, err := xdg.LogFile()
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = func() { _ = f.Close() }
	}
	logger, err := logging.New(w, level)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return logger, closer, nil
}
