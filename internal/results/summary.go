package results

import (
	"sort"
	"time"

	"multidb-benchmark/internal/metrics"
)

// Group identifies one run summary.
type Group struct {
	RunID     string
	Backend   string
	Test      string
	Operation string
}

type GroupSummary struct {
	Group
	metrics.Summary
	// Records is the largest record count seen in the group.
	Records int64
}

// Summarize regroups persisted rows by (run, backend, test type, operation)
// and recomputes each summary from the elapsed times. Groups come back sorted
// so reports are stable.
func Summarize(rows []Row) ([]GroupSummary, error) {
	samples := map[Group][]time.Duration{}
	records := map[Group]int64{}
	for _, r := range rows {
		g := Group{RunID: r.RunID, Backend: r.Backend, Test: r.Test, Operation: r.Operation}
		samples[g] = append(samples[g], r.Elapsed)
		records[g] = max(records[g], r.RecordCount)
	}

	out := make([]GroupSummary, 0, len(samples))
	for g, s := range samples {
		summary, err := metrics.Summarize(metrics.Kind(g.Operation), s)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupSummary{Group: g, Summary: summary, Records: records[g]})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Group, out[j].Group
		if a.RunID != b.RunID {
			return a.RunID < b.RunID
		}
		if a.Backend != b.Backend {
			return a.Backend < b.Backend
		}
		if a.Test != b.Test {
			return a.Test < b.Test
		}
		return a.Operation < b.Operation
	})
	return out, nil
}

// Filter keeps the rows of one run. An empty id keeps everything.
func Filter(rows []Row, runID string) []Row {
	if runID == "" {
		return rows
	}
	var out []Row
	for _, r := range rows {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out
}
