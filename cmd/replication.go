package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/replication"
	"github.com/wegman-software/changepipe/internal/watch"
)

var (
	replicationSource   string
	replicationInterval time.Duration
	maxUpdates          int
	catchUp             bool
	reportOpts          watch.ReportOptions
)

var replicationCmd = &cobra.Command{
	Use:   "replication",
	Short: "Follow the OSM replication feed and report changesets in the region",
	Long: `Follow an OSM replication feed. Every diff is recorded in the entity
cache and each changeset it touches is checked against the region.

Replication sources include:
  - planet-minute, planet-hour, planet-day (OpenStreetMap planet)
  - Custom URL (https://your-server/replication)

Regional extract feeds are not supported because they carry no changeset ids.

Examples:
  # Start following the minutely diffs
  changepipe replication init --source planet-minute

  # Check replication status
  changepipe replication status --source planet-minute

  # Process the next diff and print overlapping changesets
  changepipe replication update --source planet-minute --region germany

  # Keep following, serving Prometheus metrics
  changepipe replication start --source planet-minute --interval 1m --metrics-addr :9090`,
}

var replicationInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize replication from a source",
	Long: `Initialize replication by downloading the current state from the source.

This command:
  1. Connects to the replication source
  2. Downloads the current state file (sequence number and timestamp)
  3. Saves the state locally for future updates

After initialization, use 'replication update' or 'replication start' to process diffs.`,
	Run: runReplicationInit,
}

var replicationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current replication status",
	Long: `Display the current replication status including:
  - Local sequence number and timestamp
  - Remote sequence number and timestamp
  - Number of diffs behind
  - Time lag`,
	Run: runReplicationStatus,
}

var replicationUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Process the next replication diff",
	Long: `Fetch and process the next pending replication diff.

This command:
  1. Downloads the next osmChange diff
  2. Records its nodes, ways and relations in the entity cache
  3. Checks every changeset in the diff against the region
  4. Prints a line per overlapping changeset and updates the local state

Use --catch-up to process all pending diffs until caught up.`,
	Run: runReplicationUpdate,
}

var replicationStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start continuous replication",
	Long: `Start a continuous replication loop that:
  1. Checks for new diffs periodically
  2. Processes available diffs and prints overlapping changesets
  3. Continues until interrupted (Ctrl+C)

Use --interval to control how often to check for diffs.
Use --max-updates to limit the number of diffs to process (0 = unlimited).`,
	Run: runReplicationStart,
}

var replicationListCmd = &cobra.Command{
	Use:   "list-sources",
	Short: "List available replication sources",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available replication sources:")
		fmt.Println()
		for _, source := range replication.ListSources() {
			fmt.Println(source)
		}
	},
}

func init() {
	rootCmd.AddCommand(replicationCmd)

	replicationCmd.AddCommand(replicationInitCmd)
	replicationCmd.AddCommand(replicationStatusCmd)
	replicationCmd.AddCommand(replicationUpdateCmd)
	replicationCmd.AddCommand(replicationStartCmd)
	replicationCmd.AddCommand(replicationListCmd)

	replicationCmd.PersistentFlags().StringVar(&replicationSource, "source", "planet-minute", "Replication source (e.g., planet-minute, planet-hour, or a URL)")

	for _, c := range []*cobra.Command{replicationUpdateCmd, replicationStartCmd} {
		addReportFlags(c)
	}

	replicationUpdateCmd.Flags().BoolVar(&catchUp, "catch-up", false, "Process all pending diffs until caught up")

	replicationStartCmd.Flags().DurationVar(&replicationInterval, "interval", time.Minute, "Interval between update checks")
	replicationStartCmd.Flags().IntVar(&maxUpdates, "max-updates", 0, "Maximum number of diffs to process (0 = unlimited)")
	replicationStartCmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Listen address for the Prometheus /metrics endpoint (empty = disabled)")
}

func addReportFlags(c *cobra.Command) {
	c.Flags().BoolVar(&reportOpts.All, "all", true, "Also print non-overlapping changesets as 'x <id>' (--all=false prints overlapping ones only)")
	c.Flags().BoolVar(&reportOpts.WithInfo, "with-info", false, "Add user and creation time to overlapping changesets")
}

func getReplicator() (*replication.Replicator, error) {
	source, err := replication.ParseSource(replicationSource)
	if err != nil {
		return nil, fmt.Errorf("invalid source %q: %w", replicationSource, err)
	}
	return replication.NewReplicator(cfg, source)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Get().Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runReplicationInit(cmd *cobra.Command, args []string) {
	replicator, err := getReplicator()
	if err != nil {
		exitWithError("failed to create replicator", err)
	}

	if err := replicator.Init(context.Background()); err != nil {
		exitWithError("failed to initialize replication", err)
	}

	state := replicator.State()
	fmt.Printf("Replication initialized successfully!\n")
	fmt.Printf("Source: %s\n", replicator.Source().Name)
	fmt.Printf("Sequence: %d\n", state.SequenceNumber)
	fmt.Printf("Timestamp: %s\n", state.Timestamp.Format(time.RFC3339))
}

func runReplicationStatus(cmd *cobra.Command, args []string) {
	log := logger.Get()

	replicator, err := getReplicator()
	if err != nil {
		exitWithError("failed to create replicator", err)
	}

	status, err := replicator.GetStatus(context.Background())
	if err != nil {
		exitWithError("failed to get status", err)
	}

	log.Debug("Replication status",
		zap.String("source", status.Source),
		zap.Int64("local_sequence", status.LocalSequence),
		zap.Int64("remote_sequence", status.RemoteSequence),
		zap.Int64("behind", status.Behind),
		zap.Duration("lag", status.Lag))

	fmt.Print(status.String())
}

// applyNext processes the next diff. It returns false when the next diff is
// not published yet.
func applyNext(ctx context.Context, a *app, replicator *replication.Replicator, reporter *watch.Reporter) (bool, error) {
	diff, next, err := replicator.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch diff: %w", err)
	}
	if diff == nil {
		return false, nil
	}

	result, err := a.watcher.Process(ctx, a.region, diff)
	if err != nil {
		return false, err
	}
	if err := reporter.Write(ctx, result.Decisions); err != nil {
		return false, err
	}

	if err := replicator.Commit(next); err != nil {
		return false, err
	}
	a.purge(ctx)

	logger.Get().Info("Applied diff",
		zap.Int64("sequence", next.SequenceNumber),
		zap.Time("timestamp", next.Timestamp),
		zap.Int("changesets", result.Stats.Changesets),
		zap.Int("overlapping", result.Stats.Overlapping))

	return true, nil
}

func runReplicationUpdate(cmd *cobra.Command, args []string) {
	log := logger.Get()

	replicator, err := getReplicator()
	if err != nil {
		exitWithError("failed to create replicator", err)
	}
	if err := replicator.LoadState(); err != nil {
		exitWithError("failed to load state", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		exitWithError("failed to set up pipeline", err)
	}
	defer a.Close()

	reporter := watch.NewReporter(os.Stdout, a.changesets, reportOpts)
	applied := 0

	for {
		ok, err := applyNext(ctx, a, replicator, reporter)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			exitWithError("failed to apply update", err)
		}
		if !ok {
			if applied == 0 {
				log.Info("Already up to date")
			} else {
				log.Info("Caught up after applying updates", zap.Int("updates_applied", applied))
			}
			return
		}

		applied++
		if !catchUp {
			return
		}
	}
}

func runReplicationStart(cmd *cobra.Command, args []string) {
	log := logger.Get()

	replicator, err := getReplicator()
	if err != nil {
		exitWithError("failed to create replicator", err)
	}
	if err := replicator.LoadState(); err != nil {
		exitWithError("failed to load state", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		exitWithError("failed to set up pipeline", err)
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr)
	}
	startCollector(ctx)

	log.Info("Starting continuous replication",
		zap.String("source", replicator.Source().Name),
		zap.Stringer("region", a.region),
		zap.Duration("interval", replicationInterval),
		zap.Int("max_updates", maxUpdates))

	reporter := watch.NewReporter(os.Stdout, a.changesets, reportOpts)
	applied := 0

	// checkAndApply processes every available diff; false stops the loop
	checkAndApply := func() bool {
		for {
			if ctx.Err() != nil {
				return false
			}

			ok, err := applyNext(ctx, a, replicator, reporter)
			if err != nil {
				log.Error("Failed to apply update", zap.Error(err))
				return true
			}
			if !ok {
				log.Debug("No updates available")
				return true
			}

			applied++
			if maxUpdates > 0 && applied >= maxUpdates {
				log.Info("Reached max updates limit", zap.Int("max", maxUpdates))
				return false
			}
		}
	}

	if !checkAndApply() {
		return
	}

	ticker := time.NewTicker(replicationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Replication stopped", zap.Int("total_updates_applied", applied))
			return

		case <-ticker.C:
			if !checkAndApply() {
				log.Info("Replication complete", zap.Int("total_updates_applied", applied))
				return
			}
		}
	}
}
