package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hivemesh/hive/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive - distributed compute fabric control plane",
	Long: `Hive turns a loose swarm of GPU, CPU, storage, and edge hosts into
a single compute fabric. A coordinator tracks workers and fronts their
services; worker agents launch assigned services and route requests to
peers; an edge router is the persistent front door.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(flagLogLevel),
			JSONOutput: flagLogJSON,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hive version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOr("HIVE_CONFIG", ""), "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", envOr("HIVE_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", os.Getenv("HIVE_LOG_JSON") == "true", "emit JSON logs")

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(edgeCmd)
}

// envOr returns the environment value or a default.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
