package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/tickr/pkg/config"
	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tickr",
	Short: "Tickr - distributed task scheduler and cron monitor",
	Long: `Tickr dispatches scheduled tasks onto partitioned topics and watches
cron monitors for missed and timed out check-ins.

Every role runs as its own process and coordinates through Redis:

  scheduler     spawns schedule entries exactly once per runtime
  worker        executes task activations of one or more namespaces
  clock         consumes check-ins and drives the monitor clock
  clock-tasks   marks missed, timed out and unknown check-ins
  incidents     releases incident occurrences once their tick is classified

"tickr standalone" runs all of them in a single process.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Tickr version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "tickr"
	}

	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file (built-in defaults when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("consumer-name", hostname, "Stable consumer name within the consumer groups")
	rootCmd.PersistentFlags().IntSlice("partitions", nil, "Restrict consumers to these partitions (all when empty)")

	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(clockCmd)
	rootCmd.AddCommand(clockTasksCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(standaloneCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tickr %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads --config and initializes logging from it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
