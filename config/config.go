// Package config loads benchmark settings from defaults, an optional
// YAML file, CRUDBENCH_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/dataset"
	"github.com/weiihann/crudbench/harness"
	"github.com/weiihann/crudbench/store"
	"github.com/weiihann/crudbench/store/couchdb"
	"github.com/weiihann/crudbench/store/mongodb"
	"github.com/weiihann/crudbench/store/redis"
	"github.com/weiihann/crudbench/workload"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CRUDBENCH"

// CartDataset labels the add-to-cart rows.
const CartDataset = "orders"

// Config holds the application configuration.
type Config struct {
	Runs          int           `mapstructure:"runs"`
	Duration      time.Duration `mapstructure:"duration"`
	AddToCartRuns int           `mapstructure:"add_to_cart_runs"`
	ScanLimit     int           `mapstructure:"scan_limit"`
	Datasets      []string      `mapstructure:"datasets"`
	// ConcurrencyLevels maps a store name to its ascending worker counts.
	ConcurrencyLevels map[string][]int `mapstructure:"concurrency_levels"`
	OnError           string           `mapstructure:"on_error"`
	FailurePolicy     string           `mapstructure:"failure_policy"`
	MetricsAddr       string           `mapstructure:"metrics_addr"`

	CouchDB CouchDBConfig `mapstructure:"couchdb"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Load    LoadConfig    `mapstructure:"load"`
}

// CouchDBConfig holds CouchDB connection settings.
type CouchDBConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MongoDBConfig holds MongoDB connection settings.
type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoadConfig holds data loading settings.
type LoadConfig struct {
	DataDir          string  `mapstructure:"data_dir"`
	BatchSize        int     `mapstructure:"batch_size"`
	BatchesPerSecond float64 `mapstructure:"batches_per_second"`
}

// flagKeys maps configuration keys to the flag names that override them.
var flagKeys = map[string]string{
	"runs":                    "runs",
	"duration":                "duration",
	"add_to_cart_runs":        "add-to-cart-runs",
	"scan_limit":              "scan-limit",
	"datasets":                "datasets",
	"on_error":                "on-error",
	"failure_policy":          "failure-policy",
	"metrics_addr":            "metrics-addr",
	"load.data_dir":           "data-dir",
	"load.batch_size":         "batch-size",
	"load.batches_per_second": "batches-per-second",
}

// Load reads configuration. An empty file skips the file layer; flags
// may be nil. Only flags registered on the set are bound.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}

			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runs", bench.DefaultRuns)
	v.SetDefault("duration", bench.DefaultDuration)
	v.SetDefault("add_to_cart_runs", bench.DefaultRuns)
	v.SetDefault("scan_limit", 300)
	v.SetDefault("datasets", dataset.Names())
	v.SetDefault("on_error", string(harness.FailFast))
	v.SetDefault("failure_policy", bench.Isolate.String())
	v.SetDefault("metrics_addr", "")

	v.SetDefault("concurrency_levels.couchdb", []int{10, 30, 50})
	v.SetDefault("concurrency_levels.mongodb", []int{10, 50, 100, 200})
	v.SetDefault("concurrency_levels.redis", []int{10, 50, 100, 200})

	v.SetDefault("couchdb.url", "http://127.0.0.1:5984")
	v.SetDefault("couchdb.username", "admin")
	v.SetDefault("couchdb.password", "")

	v.SetDefault("mongodb.uri", "mongodb://localhost:27017/")
	v.SetDefault("mongodb.database", "ecommerce_db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("load.data_dir", ".")
	v.SetDefault("load.batch_size", store.DefaultBatchSize)
	v.SetDefault("load.batches_per_second", 0)
}

// Validate rejects settings no benchmark could run with.
func (c *Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Runs >= 1, "runs must be at least 1, got %d", c.Runs)
	check(c.Duration > 0, "duration must be positive, got %s", c.Duration)
	check(c.AddToCartRuns >= 1,
		"add_to_cart_runs must be at least 1, got %d", c.AddToCartRuns)
	check(c.ScanLimit >= 1, "scan_limit must be at least 1, got %d", c.ScanLimit)
	check(c.Load.BatchSize >= 1,
		"load.batch_size must be at least 1, got %d", c.Load.BatchSize)
	check(c.Load.BatchesPerSecond >= 0,
		"load.batches_per_second must not be negative, got %g",
		c.Load.BatchesPerSecond)

	for _, name := range c.Datasets {
		_, ok := dataset.Lookup(name)
		check(ok, "unknown dataset %q (known: %v)", name, dataset.Names())
	}

	for name, levels := range c.ConcurrencyLevels {
		prev := 0
		for _, l := range levels {
			if l <= prev {
				errs = append(errs, fmt.Errorf(
					"concurrency_levels.%s must be positive and ascending, got %v",
					name, levels,
				))

				break
			}

			prev = l
		}
	}

	if _, err := harness.ParseErrorMode(c.OnError); err != nil {
		errs = append(errs, err)
	}

	if _, err := bench.ParseFailurePolicy(c.FailurePolicy); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", bench.ErrInvalidConfig, errors.Join(errs...))
}

// LevelsFor returns the concurrency levels configured for a store.
func (c *Config) LevelsFor(store string) []int {
	return c.ConcurrencyLevels[store]
}

// Plan returns the plan settings for a store.
func (c *Config) Plan(store string) workload.Config {
	return workload.Config{
		Datasets:          c.Datasets,
		ConcurrencyLevels: c.LevelsFor(store),
		Runs:              c.Runs,
		Duration:          c.Duration,
		AddToCartRuns:     c.AddToCartRuns,
		CartDataset:       CartDataset,
		Memory:            true,
	}
}

// Connection returns the store connection settings.
func (c *Config) Connection() harness.Connection {
	return harness.Connection{
		CouchDB: couchdb.Config{
			URL:       c.CouchDB.URL,
			Username:  c.CouchDB.Username,
			Password:  c.CouchDB.Password,
			ScanLimit: c.ScanLimit,
		},
		MongoDB: mongodb.Config{
			URI:       c.MongoDB.URI,
			Database:  c.MongoDB.Database,
			ScanLimit: c.ScanLimit,
		},
		Redis: redis.Config{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			ScanLimit: c.ScanLimit,
		},
	}
}

// LoadSettings returns the loader settings for the configured datasets.
func (c *Config) LoadSettings() harness.LoadConfig {
	specs := make([]dataset.Spec, 0, len(c.Datasets))
	for _, name := range c.Datasets {
		if s, ok := dataset.Lookup(name); ok {
			specs = append(specs, s)
		}
	}

	return harness.LoadConfig{
		DataDir:  c.Load.DataDir,
		Datasets: specs,
		Options: store.LoadOptions{
			BatchSize: c.Load.BatchSize,
			Limiter:   store.NewLimiter(c.Load.BatchesPerSecond),
		},
	}
}
