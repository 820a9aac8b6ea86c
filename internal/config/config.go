package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"multidb-benchmark/internal/database"
)

type Config struct {
	Databases         map[string]Database `yaml:"databases"`
	BenchmarkSettings BenchmarkSettings   `yaml:"benchmark_settings"`
	Output            Output              `yaml:"output"`
}

type Database struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Database         string `yaml:"database"`
	URI              string `yaml:"uri"`
	PoolSize         int    `yaml:"pool_size"`
	ConnectTimeout   string `yaml:"connect_timeout"`
	OperationTimeout string `yaml:"operation_timeout"`
	FanOutLimit      int    `yaml:"fan_out_limit"`
	Datacenter       string `yaml:"datacenter"`
	SubstringLimit   int    `yaml:"substring_limit"`
}

type BenchmarkSettings struct {
	Dataset           string   `yaml:"dataset"`
	BatchSize         int      `yaml:"batch_size"`
	MaxRecords        int      `yaml:"max_records"`
	QuerySampleSize   int      `yaml:"query_sample_size"`
	LoadBatchSize     int      `yaml:"load_batch_size"`
	Iterations        int      `yaml:"iterations"`
	Warmup            *int     `yaml:"warmup"`
	QueryBatchMin     int      `yaml:"query_batch_min"`
	QueryBatchMax     int      `yaml:"query_batch_max"`
	MaxRPS            float64  `yaml:"max_rps"`
	SubstringQueries  int      `yaml:"substring_queries"`
	SubstringField    string   `yaml:"substring_field"`
	SubstringPatterns []string `yaml:"substring_patterns"`
	MaxFailureRatio   *float64 `yaml:"max_failure_ratio"`
	Seed              *int64   `yaml:"seed"`
	ProgressEvery     int      `yaml:"progress_every"`
	Teardown          *bool    `yaml:"teardown"`
	TeardownTimeout   string   `yaml:"teardown_timeout"`
}

type Output struct {
	CSV string `yaml:"csv"`
	// SQL is an optional mysql:// or libsql:// DSN rows are mirrored to.
	SQL string `yaml:"sql"`
}

const (
	defaultHost            = "localhost"
	defaultConnectTimeout  = 10 * time.Second
	defaultOpTimeout       = 60 * time.Second
	defaultTeardownTimeout = 2 * time.Minute
	defaultFanOut          = 100
	defaultSubstringLimit  = 100
	defaultDatabase        = "benchmark"
	DefaultCSV             = "benchmark_results.csv"
)

var defaultPorts = map[database.Backend]int{
	database.Postgres:  5432,
	database.MongoDB:   27017,
	database.CouchDB:   5984,
	database.Cassandra: 9042,
	database.ScyllaDB:  9042,
}

// LoadConfig reads the YAML file at path. A missing file yields an empty
// configuration so that defaults and environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for name := range config.Databases {
		if _, err := database.ParseBackend(name); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return config, nil
}

// LoadEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func envKey(b database.Backend, field string) string {
	return "BENCH_" + strings.ToUpper(string(b)) + "_" + field
}

// Params resolves the connection parameters of b: file values, then
// BENCH_<BACKEND>_{HOST,PORT,USER,PASSWORD,URI} overrides, then defaults.
func (c *Config) Params(b database.Backend) (database.Params, error) {
	d := c.Databases[string(b)]

	if v, ok := os.LookupEnv(envKey(b, "HOST")); ok {
		d.Host = v
	}
	if v, ok := os.LookupEnv(envKey(b, "PORT")); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return database.Params{}, fmt.Errorf("%s: %w", envKey(b, "PORT"), err)
		}
		d.Port = port
	}
	if v, ok := os.LookupEnv(envKey(b, "USER")); ok {
		d.User = v
	}
	if v, ok := os.LookupEnv(envKey(b, "PASSWORD")); ok {
		d.Password = v
	}
	if v, ok := os.LookupEnv(envKey(b, "URI")); ok {
		d.URI = v
	}

	connectTimeout, err := duration(d.ConnectTimeout, defaultConnectTimeout)
	if err != nil {
		return database.Params{}, fmt.Errorf("%s connect_timeout: %w", b, err)
	}
	opTimeout, err := duration(d.OperationTimeout, defaultOpTimeout)
	if err != nil {
		return database.Params{}, fmt.Errorf("%s operation_timeout: %w", b, err)
	}

	p := database.Params{
		Host:             orDefault(d.Host, defaultHost),
		Port:             d.Port,
		User:             d.User,
		Password:         d.Password,
		Database:         orDefault(d.Database, defaultDatabase),
		URI:              d.URI,
		PoolSize:         d.PoolSize,
		ConnectTimeout:   connectTimeout,
		OperationTimeout: opTimeout,
		FanOutLimit:      d.FanOutLimit,
		Datacenter:       d.Datacenter,
		SubstringLimit:   d.SubstringLimit,
	}
	if p.Port == 0 {
		p.Port = defaultPorts[b]
	}
	if p.FanOutLimit <= 0 {
		p.FanOutLimit = defaultFanOut
	}
	if p.SubstringLimit <= 0 {
		p.SubstringLimit = defaultSubstringLimit
	}
	return p, nil
}

// Settings overlays the file's benchmark settings on the defaults.
func (c *Config) Settings() database.Settings {
	b := c.BenchmarkSettings
	s := database.DefaultSettings()

	setInt(&s.BatchSize, b.BatchSize)
	setInt(&s.MaxRecords, b.MaxRecords)
	setInt(&s.QuerySampleSize, b.QuerySampleSize)
	setInt(&s.LoadBatchSize, b.LoadBatchSize)
	setInt(&s.Iterations, b.Iterations)
	setInt(&s.QueryBatchMin, b.QueryBatchMin)
	setInt(&s.QueryBatchMax, b.QueryBatchMax)
	setInt(&s.SubstringQueries, b.SubstringQueries)
	setInt(&s.ProgressEvery, b.ProgressEvery)
	if b.Warmup != nil {
		s.Warmup = *b.Warmup
	}
	if b.MaxRPS > 0 {
		s.MaxRPS = b.MaxRPS
	}
	if b.SubstringField != "" {
		s.SubstringField = b.SubstringField
	}
	if len(b.SubstringPatterns) > 0 {
		s.SubstringPatterns = b.SubstringPatterns
	}
	if b.MaxFailureRatio != nil {
		s.MaxFailureRatio = *b.MaxFailureRatio
	}
	if b.Seed != nil {
		s.Seed = *b.Seed
	}
	return s
}

// Teardown reports whether schemas are dropped after the run. Defaults to
// true.
func (c *Config) Teardown() bool {
	if c.BenchmarkSettings.Teardown == nil {
		return true
	}
	return *c.BenchmarkSettings.Teardown
}

func (c *Config) TeardownTimeout() (time.Duration, error) {
	return duration(c.BenchmarkSettings.TeardownTimeout, defaultTeardownTimeout)
}

// CSVPath is where result rows are appended.
func (c *Config) CSVPath() string {
	return orDefault(c.Output.CSV, DefaultCSV)
}

func duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
