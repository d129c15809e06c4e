package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wegman-software/changepipe/internal/region"
	"github.com/wegman-software/changepipe/internal/watch"
)

var checkCmd = &cobra.Command{
	Use:   "check <changeset-id>...",
	Short: "Check changesets against the region",
	Long: `Decide whether changesets overlap the region and print how each
decision was reached.

Only entities already in the entity cache are considered, plus whatever the
OSM API can supply for them. With the memory backend the cache starts empty,
so the changeset bounding box is usually what decides.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runCheck,
}

var infoCmd = &cobra.Command{
	Use:   "info <changeset-id>...",
	Short: "Print changeset user and creation time",
	Args:  cobra.MinimumNArgs(1),
	Run:   runInfo,
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List region presets",
	Run:   runRegions,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(regionsCmd)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid changeset id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runCheck(cmd *cobra.Command, args []string) {
	ids, err := parseIDs(args)
	if err != nil {
		exitWithError("invalid arguments", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		exitWithError("failed to set up pipeline", err)
	}
	defer a.Close()

	decisions, err := a.watcher.Evaluate(ctx, a.region, ids)
	if err != nil {
		exitWithError("failed to evaluate", err)
	}
	for _, d := range decisions {
		fmt.Println(d.String())
	}
}

func runInfo(cmd *cobra.Command, args []string) {
	ids, err := parseIDs(args)
	if err != nil {
		exitWithError("invalid arguments", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		exitWithError("failed to set up pipeline", err)
	}
	defer a.Close()

	for _, id := range ids {
		cs := a.changesets.Info(ctx, id, true)
		fmt.Printf("%d %s\n", id, watch.FormatInfo(cs))
	}
}

func runRegions(cmd *cobra.Command, args []string) {
	presets := region.Builtin()
	if cfg.RegionsFile != "" {
		var err error
		if presets, err = region.LoadPresets(cfg.RegionsFile); err != nil {
			exitWithError("failed to load regions", err)
		}
	}

	for _, name := range presets.Names() {
		r := presets[name]
		fmt.Printf("%-12s %s  area %.3f\n", name, r, r.Area())
	}
}
