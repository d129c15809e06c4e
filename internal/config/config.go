package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MaxBatchSize is the most node ids the OSM API accepts in one /nodes call
const MaxBatchSize = 10

// Config holds the global configuration for changepipe
type Config struct {
	// Region of interest
	Region      string // preset name
	BBox        string // minlon,minlat,maxlon,maxlat, overrides Region
	RegionsFile string // YAML file with extra presets
	NearBuffer  float64

	// Entity cache
	Backend       string // memory, redis or postgres
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Postgres cache backend
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// OSM API
	APIURL           string
	APITimeout       time.Duration
	APIRetries       int
	UserAgent        string
	BatchSize        int // node ids per /nodes call
	BatchConcurrency int // node pages in flight per way

	// Processing settings
	Workers  int // changesets evaluated concurrently
	StateDir string

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
	MetricsAddr     string        // Listen address for /metrics (empty = disabled)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Region:           "germany",
		NearBuffer:       5.0,
		Backend:          "memory",
		CacheTTL:         24 * time.Hour,
		RedisAddr:        "localhost:6379",
		DBHost:           "localhost",
		DBPort:           5432,
		DBName:           "osm",
		DBUser:           "postgres",
		DBSchema:         "public",
		APIURL:           "https://api.openstreetmap.org/api/0.6",
		APITimeout:       30 * time.Second,
		APIRetries:       2,
		UserAgent:        "changepipe/1.0",
		BatchSize:        MaxBatchSize,
		BatchConcurrency: 4,
		Workers:          runtime.NumCPU(),
		StateDir:         "./changepipe_data",
		MetricsInterval:  30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", MaxBatchSize)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1")
	}
	if c.NearBuffer < 0 {
		return fmt.Errorf("near buffer must not be negative")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Region == "" && c.BBox == "" {
		return fmt.Errorf("a region or bbox is required")
	}
	return nil
}

// LoadDotEnv loads variables from .env style files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// envBinding maps an environment variable onto a config field and the
// command line flag that takes precedence over it
type envBinding struct {
	env  string
	flag string
	set  func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"CHANGEPIPE_REGION", "region", func(c *Config, v string) error { c.Region = v; return nil }},
	{"CHANGEPIPE_BBOX", "bbox", func(c *Config, v string) error { c.BBox = v; return nil }},
	{"CHANGEPIPE_BACKEND", "backend", func(c *Config, v string) error { c.Backend = v; return nil }},
	{"CHANGEPIPE_CACHE_TTL", "cache-ttl", func(c *Config, v string) error { return setDuration(&c.CacheTTL, v) }},
	{"CHANGEPIPE_REDIS_ADDR", "redis-addr", func(c *Config, v string) error { c.RedisAddr = v; return nil }},
	{"CHANGEPIPE_REDIS_PASSWORD", "redis-password", func(c *Config, v string) error { c.RedisPassword = v; return nil }},
	{"CHANGEPIPE_REDIS_DB", "redis-db", func(c *Config, v string) error { return setInt(&c.RedisDB, v) }},
	{"CHANGEPIPE_DB_HOST", "db-host", func(c *Config, v string) error { c.DBHost = v; return nil }},
	{"CHANGEPIPE_DB_PORT", "db-port", func(c *Config, v string) error { return setInt(&c.DBPort, v) }},
	{"CHANGEPIPE_DB_NAME", "db-name", func(c *Config, v string) error { c.DBName = v; return nil }},
	{"CHANGEPIPE_DB_USER", "db-user", func(c *Config, v string) error { c.DBUser = v; return nil }},
	{"CHANGEPIPE_DB_PASSWORD", "db-password", func(c *Config, v string) error { c.DBPassword = v; return nil }},
	{"CHANGEPIPE_DB_SCHEMA", "db-schema", func(c *Config, v string) error { c.DBSchema = v; return nil }},
	{"CHANGEPIPE_API_URL", "api-url", func(c *Config, v string) error { c.APIURL = v; return nil }},
	{"CHANGEPIPE_API_TIMEOUT", "api-timeout", func(c *Config, v string) error { return setDuration(&c.APITimeout, v) }},
	{"CHANGEPIPE_WORKERS", "workers", func(c *Config, v string) error { return setInt(&c.Workers, v) }},
	{"CHANGEPIPE_STATE_DIR", "state-dir", func(c *Config, v string) error { c.StateDir = v; return nil }},
	{"CHANGEPIPE_LOG_FILE", "log-file", func(c *Config, v string) error { c.LogFile = v; return nil }},
}

// ApplyEnv overlays CHANGEPIPE_* environment variables onto the config.
// Variables whose flag was set explicitly are skipped.
func (c *Config) ApplyEnv(flagSet func(name string) bool) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.env)
		if !ok || v == "" {
			continue
		}
		if flagSet != nil && flagSet(b.flag) {
			continue
		}
		if err := b.set(c, v); err != nil {
			return fmt.Errorf("invalid %s: %w", b.env, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
