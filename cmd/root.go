package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/changepipe/internal/config"
	"github.com/wegman-software/changepipe/internal/logger"
)

var (
	cfg      = config.DefaultConfig()
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "changepipe",
	Short: "Find OpenStreetMap changesets that touch a region",
	Long: `changepipe follows the OpenStreetMap edit stream and reports the
changesets whose edits fall inside a region of interest.

Each diff is recorded in a short-lived entity cache (memory, Redis or
PostgreSQL). Changesets are then checked against the region using cached
geometry first and the OSM API only when the cache cannot decide.

Settings can also come from CHANGEPIPE_* environment variables or a .env
file; command line flags take precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		if err := cfg.ApplyEnv(cmd.Flags().Changed); err != nil {
			return err
		}

		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "Environment files to load (missing files are ignored)")
	flags.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of changesets evaluated concurrently")
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory for replication state")

	// Region flags
	flags.StringVarP(&cfg.Region, "region", "r", cfg.Region, "Region preset name")
	flags.StringVar(&cfg.BBox, "bbox", "", "Region as minlon,minlat,maxlon,maxlat (overrides --region)")
	flags.StringVar(&cfg.RegionsFile, "regions-file", "", "YAML file with additional region presets")
	flags.Float64Var(&cfg.NearBuffer, "near-buffer", cfg.NearBuffer, "Degrees outside the region beyond which geometry is too far")

	// Logging and metrics flags
	flags.StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m)")

	// Cache flags
	flags.StringVar(&cfg.Backend, "backend", cfg.Backend, "Entity cache backend: memory, redis or postgres")
	flags.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Lifetime of cached entities")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	flags.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")

	// Database flags
	flags.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	flags.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	flags.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	flags.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	flags.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	flags.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")

	// OSM API flags
	flags.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "OSM API base URL")
	flags.DurationVar(&cfg.APITimeout, "api-timeout", cfg.APITimeout, "Timeout per API request")
	flags.IntVar(&cfg.APIRetries, "api-retries", cfg.APIRetries, "Retries for failed API requests")
	flags.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent sent to the OSM API and replication servers")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Node ids per API batch request (at most 10)")
	flags.IntVar(&cfg.BatchConcurrency, "batch-concurrency", cfg.BatchConcurrency, "Node batch requests in flight per way")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
