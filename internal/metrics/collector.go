package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/montanaflynn/stats"
	gometrics "github.com/rcrowley/go-metrics"
)

// Kind is the operation a timing sample belongs to.
type Kind string

const (
	InsertBatch      Kind = "insert-batch"
	QueryByCode      Kind = "query-by-code"
	QueryBySubstring Kind = "query-by-substring"
)

// Kinds lists every operation kind in reporting order.
var Kinds = []Kind{InsertBatch, QueryByCode, QueryBySubstring}

// live histogram range in microseconds: 1µs .. 10min
const (
	histogramMin    = 1
	histogramMax    = int64(10 * time.Minute / time.Microsecond)
	histogramDigits = 3
)

// EmptySampleError is returned when a summary is requested for a kind with no
// successful samples.
type EmptySampleError struct {
	Kind Kind
}

func (e *EmptySampleError) Error() string {
	return fmt.Sprintf("no samples recorded for %s", e.Kind)
}

// Summary holds the statistics of one operation kind.
type Summary struct {
	Kind   Kind          `json:"kind" yaml:"kind"`
	Count  int           `json:"count" yaml:"count"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	StdDev time.Duration `json:"stddev" yaml:"stddev"`
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
}

// Collector accumulates timing samples for one protocol execution.
type Collector struct {
	mu      sync.Mutex
	samples map[Kind][]time.Duration
	live    map[Kind]*hdrhistogram.Histogram
	written gometrics.Meter
}

func NewCollector() *Collector {
	return &Collector{
		samples: make(map[Kind][]time.Duration),
		live:    make(map[Kind]*hdrhistogram.Histogram),
		written: gometrics.NewMeter(),
	}
}

// Record appends one sample.
func (c *Collector) Record(kind Kind, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples[kind] = append(c.samples[kind], d)

	h, ok := c.live[kind]
	if !ok {
		h = hdrhistogram.New(histogramMin, histogramMax, histogramDigits)
		c.live[kind] = h
	}
	us := d.Microseconds()
	if us < histogramMin {
		us = histogramMin
	}
	if us > histogramMax {
		us = histogramMax
	}
	// in range by construction
	_ = h.RecordValue(us)
}

// MarkWritten counts records written to the backend for throughput reporting.
func (c *Collector) MarkWritten(n int) {
	c.written.Mark(int64(n))
}

// WriteRate returns the mean records/second written since the collector was
// created.
func (c *Collector) WriteRate() float64 {
	return c.written.RateMean()
}

// Count returns the number of samples held for kind.
func (c *Collector) Count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples[kind])
}

// LiveP95 is an approximate running p95 read from the histogram. It is meant
// for progress logs only; Summarize is the source of persisted figures.
func (c *Collector) LiveP95(kind Kind) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.live[kind]
	if !ok {
		return 0
	}
	return time.Duration(h.ValueAtQuantile(95)) * time.Microsecond
}

// Reset drops every sample of kind.
func (c *Collector) Reset(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.samples, kind)
	delete(c.live, kind)
}

// Summarize computes the statistics of kind over the samples held so far.
func (c *Collector) Summarize(kind Kind) (Summary, error) {
	c.mu.Lock()
	samples := append([]time.Duration(nil), c.samples[kind]...)
	c.mu.Unlock()
	return Summarize(kind, samples)
}

// Summaries returns a summary for every kind that has samples.
func (c *Collector) Summaries() map[Kind]Summary {
	out := make(map[Kind]Summary)
	for _, kind := range Kinds {
		s, err := c.Summarize(kind)
		if err != nil {
			continue
		}
		out[kind] = s
	}
	return out
}

// Close stops the throughput meter.
func (c *Collector) Close() {
	c.written.Stop()
}

// Summarize computes statistics over samples. The input is not modified and
// its order does not affect the result.
func Summarize(kind Kind, samples []time.Duration) (Summary, error) {
	n := len(samples)
	if n == 0 {
		return Summary{}, &EmptySampleError{Kind: kind}
	}

	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	data := make(stats.Float64Data, n)
	for i, d := range sorted {
		data[i] = float64(d)
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return Summary{}, err
	}
	stddev, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Kind:   kind,
		Count:  n,
		Mean:   time.Duration(mean),
		StdDev: time.Duration(stddev),
		Min:    sorted[0],
		Max:    sorted[n-1],
		P50:    sorted[Rank(50, n)],
		P95:    sorted[Rank(95, n)],
		P99:    sorted[Rank(99, n)],
	}, nil
}

// Rank returns the nearest-rank index ceil(p/100*n)-1 clamped to [0, n-1].
// Integer arithmetic keeps it exact for every n.
func Rank(p, n int) int {
	if n <= 0 {
		return 0
	}
	idx := (p*n+99)/100 - 1
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}
