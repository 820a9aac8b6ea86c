package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"multidb-benchmark/internal/logging"
	"multidb-benchmark/internal/results"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	in := flag.String("results", "benchmark_results.csv", "CSV file written by benchmark-runner")
	runID := flag.String("run", "", "only report this run id")
	logLevel := flag.String("log-level", "", "log level")
	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitCode = 1
		return
	}
	defer logger.Sync()

	rows, err := results.ReadCSV(*in)
	if err != nil {
		logger.Errorf("Failed to read results: %v", err)
		exitCode = 1
		return
	}
	rows = results.Filter(rows, *runID)
	if len(rows) == 0 {
		logger.Warnf("No rows in %s", *in)
		return
	}

	groups, err := results.Summarize(rows)
	if err != nil {
		logger.Errorf("Failed to summarize: %v", err)
		exitCode = 1
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RUN\tBACKEND\tTEST\tOPERATION\tRECORDS\tN\tMEAN\tSTDDEV\tMIN\tP50\tP95\tP99\tMAX\t")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			short(g.RunID), g.Backend, g.Test, g.Operation, g.Records, g.Count,
			ms(g.Mean), ms(g.StdDev), ms(g.Min), ms(g.P50), ms(g.P95), ms(g.P99), ms(g.Max))
	}
	if err := tw.Flush(); err != nil {
		logger.Errorf("Failed to print report: %v", err)
		exitCode = 1
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
