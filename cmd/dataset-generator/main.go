package main

import (
	"flag"
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"

	"multidb-benchmark/internal/dataset"
	"multidb-benchmark/internal/logging"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	out := flag.String("out", "atendimentos.json", "output file")
	count := flag.Int("records", 10000, "number of records to generate")
	seed := flag.Int64("seed", 1, "generator seed")
	logLevel := flag.String("log-level", "", "log level")
	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitCode = 1
		return
	}
	defer logger.Sync()

	if *count <= 0 {
		logger.Errorf("-records must be positive, got %d", *count)
		exitCode = 2
		return
	}

	records := dataset.Generate(*count, *seed)
	if err := dataset.Save(*out, records); err != nil {
		logger.Errorf("Failed to write %s: %v", *out, err)
		exitCode = 1
		return
	}

	size := "unknown size"
	if stat, err := os.Stat(*out); err == nil {
		size = bytefmt.ByteSize(uint64(stat.Size()))
	}
	logger.Infof("Wrote %d records to %s (%s, seed %d)", len(records), *out, size, *seed)
}
