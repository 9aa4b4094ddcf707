// Package cmd provides the command-line interface for chifabric.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/chifabric/datarecording"
)

// Environment variables that provide flag defaults.
const (
	envLogLevel    = "CHIFABRIC_LOG_LEVEL"
	envRecord      = "CHIFABRIC_RECORD"
	envInspectPort = "CHIFABRIC_INSPECT_PORT"
)

// newRootCmd builds the command tree. Every call returns fresh commands, so
// that flag values never leak from one execution to the next.
func newRootCmd() *cobra.Command {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var level string

	rootCmd := &cobra.Command{
		Use:   "chifabric",
		Short: "chifabric synthesizes CHI fabrics and finds deadlocks in traces.",
		Long: `chifabric synthesizes the node catalog of a multi-die CHI ` +
			`coherence fabric and rebuilds the wait-for graph of a runtime ` +
			`trace to report protocol deadlocks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := logrus.ParseLevel(level)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}

			log.SetLevel(lvl)
			log.SetOutput(cmd.ErrOrStderr())

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&level, "log-level",
		envOr(envLogLevel, "info"),
		"Log level (panic, fatal, error, warn, info, debug, trace).")

	rootCmd.AddCommand(
		newSynthCmd(log),
		newDeadlockCmd(log),
		newInspectCmd(log),
	)

	return rootCmd
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	loadEnv()

	err := newRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadEnv reads a .env file in the working directory if there is one.
// Variables that are already set are not overridden.
func loadEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Ignoring .env: %v\n", err)
	}
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}

	return fallback
}

func envIntOr(name string, fallback int) int {
	v, err := strconv.Atoi(envOr(name, ""))
	if err != nil {
		return fallback
	}

	return v
}

// openRecorder creates the run recorder of a target, either a SQLite path
// with an optional .sqlite3 suffix or a clickhouse:// DSN.
func openRecorder(target string) (datarecording.DataRecorder, *datarecording.RunRecorder, error) {
	rec, err := datarecording.Open(target)
	if err != nil {
		return nil, nil, fmt.Errorf("open recording: %w", err)
	}

	return rec, datarecording.NewRunRecorder(rec), nil
}

// waitForInterrupt blocks until the user interrupts the process or the
// context is done.
func waitForInterrupt(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	<-ctx.Done()
}
