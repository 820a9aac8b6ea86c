package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"multidb-benchmark/internal/config"
	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/database/cassandra"
	"multidb-benchmark/internal/database/couch"
	"multidb-benchmark/internal/database/mongodb"
	"multidb-benchmark/internal/database/postgres"
	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/logging"
	"multidb-benchmark/internal/results"
	"multidb-benchmark/internal/runner"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	envPath := flag.String("env", ".env", "optional .env file with BENCH_<BACKEND>_* credentials")
	dbList := flag.String("db", "postgres", "comma-separated backends (postgres, mongodb, couchdb, cassandra, scylladb) or all")
	testName := flag.String("test", "scalability", "test to run (scalability, load, substring or all)")
	datasetPath := flag.String("dataset", "", "JSON dataset (overrides benchmark_settings.dataset)")
	batchSize := flag.Int("batch-size", 0, "scalability batch size")
	maxRecords := flag.Int("max-records", 0, "use at most this many records (0 = all)")
	iterations := flag.Int("iterations", 0, "measured load iterations")
	warmup := flag.Int("warmup", -1, "discarded load warmup iterations")
	queries := flag.Int("substring-queries", 0, "substring queries to issue")
	field := flag.String("field", "", "field searched by the substring test")
	maxRPS := flag.Float64("max-rps", 0, "pace load iterations to at most this many per second")
	seed := flag.Int64("seed", 0, "seed for query sampling (0 = config value)")
	noTeardown := flag.Bool("no-teardown", false, "keep the schema of the last protocol of each backend")
	resultsPath := flag.String("results", "", "CSV file rows are appended to")
	resultsDB := flag.String("results-db", "", "also store rows in a mysql:// or libsql:// database")
	logLevel := flag.String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	check := flag.Bool("check", false, "only check that each backend accepts connect, write, read and teardown")
	checkRecords := flag.Int("check-records", 2, "generated records used by -check")

	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitCode = 1
		return
	}
	defer logger.Sync()

	if err := config.LoadEnv(*envPath); err != nil {
		logger.Errorf("Failed to load %s: %v", *envPath, err)
		exitCode = 1
		return
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		exitCode = 1
		return
	}

	settings := cfg.Settings()
	if *batchSize > 0 {
		settings.BatchSize = *batchSize
	}
	if *maxRecords > 0 {
		settings.MaxRecords = *maxRecords
	}
	if *iterations > 0 {
		settings.Iterations = *iterations
	}
	if *warmup >= 0 {
		settings.Warmup = *warmup
	}
	if *queries > 0 {
		settings.SubstringQueries = *queries
	}
	if *field != "" {
		settings.SubstringField = *field
	}
	if *maxRPS > 0 {
		settings.MaxRPS = *maxRPS
	}
	if *seed != 0 {
		settings.Seed = *seed
	}

	backends, err := parseBackends(*dbList)
	if err != nil {
		logger.Errorf("%v", err)
		exitCode = 2
		return
	}

	teardownTimeout, err := cfg.TeardownTimeout()
	if err != nil {
		logger.Errorf("Invalid teardown_timeout: %v", err)
		exitCode = 2
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *check {
		if *checkRecords <= 0 {
			logger.Errorf("-check-records must be positive, got %d", *checkRecords)
			exitCode = 2
			return
		}
		exitCode = runCheck(ctx, logger, driverFactory(cfg, logger), runner.RunConfig{
			Backends:        backends,
			Records:         dataset.Generate(*checkRecords, settings.Seed),
			Settings:        settings,
			TeardownTimeout: teardownTimeout,
		})
		return
	}

	test, err := database.ParseTestType(*testName)
	if err != nil {
		logger.Errorf("%v", err)
		exitCode = 2
		return
	}

	path := *datasetPath
	if path == "" {
		path = cfg.BenchmarkSettings.Dataset
	}
	if path == "" {
		logger.Errorf("No dataset given: use -dataset or benchmark_settings.dataset")
		exitCode = 2
		return
	}
	records, err := dataset.Load(path)
	if err != nil {
		logger.Errorf("Failed to load dataset: %v", err)
		exitCode = 1
		return
	}
	var size uint64
	if stat, err := os.Stat(path); err == nil {
		size = uint64(stat.Size())
	}

	sink, err := openSink(context.Background(), cfg, *resultsPath, *resultsDB)
	if err != nil {
		logger.Errorf("Failed to open results store: %v", err)
		exitCode = 1
		return
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warnf("Failed to close results store: %v", err)
		}
	}()

	run := runner.New(runner.RunConfig{
		Backends:        backends,
		Test:            test,
		Records:         records,
		DatasetPath:     path,
		DatasetBytes:    size,
		Settings:        settings,
		Teardown:        cfg.Teardown() && !*noTeardown,
		TeardownTimeout: teardownTimeout,
	}, driverFactory(cfg, logger), sink, logger)

	logger.Infof("Starting run %s", run.RunID())
	start := time.Now()
	report, err := run.Run(ctx)
	var cfgErr *runner.ConfigurationError
	if errors.As(err, &cfgErr) {
		logger.Errorf("%v", err)
		exitCode = 2
		return
	}
	if err != nil {
		logger.Errorf("Benchmark failed: %v", err)
		exitCode = 1
		return
	}
	logger.Infof("Run %s finished in %s", report.RunID, time.Since(start).Round(time.Millisecond))

	if err := report.Print(os.Stdout); err != nil {
		logger.Warnf("Failed to print report: %v", err)
	}
	if report.Failed() {
		exitCode = 1
	}
}

// runCheck runs the connection check and returns the exit code.
func runCheck(ctx context.Context, logger *zap.SugaredLogger, drivers runner.DriverFactory, cfg runner.RunConfig) int {
	report, err := runner.New(cfg, drivers, nil, logger).Check(ctx)
	var cfgErr *runner.ConfigurationError
	if errors.As(err, &cfgErr) {
		logger.Errorf("%v", err)
		return 2
	}
	if err != nil {
		logger.Errorf("Check failed: %v", err)
		return 1
	}
	if err := report.Print(os.Stdout); err != nil {
		logger.Warnf("Failed to print report: %v", err)
	}
	if report.Failed() {
		return 1
	}
	return 0
}

func parseBackends(list string) ([]database.Backend, error) {
	if strings.TrimSpace(list) == "all" {
		return database.Backends, nil
	}
	var out []database.Backend
	for _, name := range strings.Split(list, ",") {
		b, err := database.ParseBackend(name)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func driverFactory(cfg *config.Config, logger *zap.SugaredLogger) runner.DriverFactory {
	return func(b database.Backend) (database.Driver, error) {
		params, err := cfg.Params(b)
		if err != nil {
			return nil, err
		}
		switch b {
		case database.Postgres:
			return postgres.New(params, logger), nil
		case database.MongoDB:
			return mongodb.New(params, logger), nil
		case database.CouchDB:
			return couch.New(params, logger), nil
		case database.Cassandra:
			return cassandra.NewCassandra(params, logger), nil
		case database.ScyllaDB:
			return cassandra.NewScylla(params, logger), nil
		}
		return nil, fmt.Errorf("unsupported backend %s", b)
	}
}

func openSink(ctx context.Context, cfg *config.Config, csvPath, dsn string) (results.Sink, error) {
	if csvPath == "" {
		csvPath = cfg.CSVPath()
	}
	csvSink, err := results.OpenCSV(csvPath)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		dsn = cfg.Output.SQL
	}
	if dsn == "" {
		return csvSink, nil
	}
	sqlSink, err := results.OpenSQL(ctx, dsn)
	if err != nil {
		csvSink.Close()
		return nil, err
	}
	return results.MultiSink{csvSink, sqlSink}, nil
}
