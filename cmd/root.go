package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configPath  string  // Bridge YAML configuration
	modelPath   string  // modelDescription.xml, overrides the config's model
	busKind     string  // memory or nats, overrides the config
	natsURL     string  // NATS server URL, overrides the config
	horizon     float64 // Simulation end time; 0 uses the configured stop time
	logLevel    string  // Log verbosity level
	metricsAddr string  // Listen address of the Prometheus endpoint; empty disables it
	realtime    bool    // Pace steps to wall-clock time
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "fmubridge",
	Short: "Exchange FMU inputs and outputs with a simulation bus",
}

// setLogLevel applies the --log flag.
func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// runCmd steps the FMU and exchanges data until the horizon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a bridge session",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runBridge(ctx, currentOptions()); err != nil {
			logrus.Fatalf("Bridge failed: %v", err)
		}
		logrus.Info("Bridge session complete.")
	},
}

// validateCmd resolves the configuration and prints the topic layout
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a bridge configuration and print its topics",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := validateBridge(cmd.OutOrStdout(), currentOptions()); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
	},
}

func currentOptions() options {
	return options{
		ConfigPath:  configPath,
		ModelPath:   modelPath,
		Bus:         busKind,
		NATSURL:     natsURL,
		Horizon:     horizon,
		MetricsAddr: metricsAddr,
		Realtime:    realtime,
	}
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVar(&configPath, "config", "", "Path to the bridge YAML configuration")
		c.Flags().StringVar(&modelPath, "model", "", "Path to modelDescription.xml (overrides the configuration)")
		c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	}

	runCmd.Flags().StringVar(&busKind, "bus", "", "Bus adapter: memory or nats (overrides the configuration)")
	runCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides the configuration)")
	runCmd.Flags().Float64Var(&horizon, "horizon", 0, "Simulation end time in seconds (default: configured stop time)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().BoolVar(&realtime, "realtime", false, "Pace steps to wall-clock time")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
