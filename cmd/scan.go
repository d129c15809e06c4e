package cmd

import (
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/osc"
	"github.com/wegman-software/changepipe/internal/watch"
)

var scanCmd = &cobra.Command{
	Use:   "scan <file.osc[.gz]>",
	Short: "Process a local osmChange file",
	Long: `Record a local osmChange file in the entity cache and print the
changesets it touches that overlap the region.

Examples:
  changepipe scan 123.osc.gz --region germany
  changepipe scan changes.osc --bbox 7.40,43.72,7.44,43.76 --all=false`,
	Args: cobra.ExactArgs(1),
	Run:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addReportFlags(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) {
	log := logger.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		exitWithError("failed to set up pipeline", err)
	}
	defer a.Close()

	parser := osc.NewParser()
	diff, err := parser.ReadDiffFile(ctx, args[0])
	if err != nil {
		exitWithError("failed to read change file", err)
	}

	stats := parser.Stats()
	log.Info("Read change file",
		zap.String("file", args[0]),
		zap.Int64("changes", stats.Total()),
		zap.Int64("nodes_deleted", stats.NodesDeleted),
		zap.Int64("ways_deleted", stats.WaysDeleted),
		zap.Int("changesets", len(diff.Changesets())))

	result, err := a.watcher.Process(ctx, a.region, diff)
	if err != nil {
		exitWithError("failed to process change file", err)
	}

	reporter := watch.NewReporter(os.Stdout, a.changesets, reportOpts)
	if err := reporter.Write(ctx, result.Decisions); err != nil {
		exitWithError("failed to write report", err)
	}
	a.purge(ctx)
}
