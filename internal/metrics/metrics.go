package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// Snapshot is the aggregate view of a completed run.
type Snapshot struct {
	RowCount        int64         `json:"row_count"`
	BytesProcessed  int64         `json:"bytes_processed"`
	DedupeHits      int64         `json:"dedupe_hits"`
	BatchCount      int           `json:"batch_count"`
	DurationSeconds float64       `json:"duration_seconds"`
	RowsPerSecond   float64       `json:"rows_per_second"`
	MBPerSecond     float64       `json:"mb_per_second"`
	BatchLatencyP95 time.Duration `json:"batch_latency_p95"`
}

// Collector accumulates per batch observations over the life of a run.
type Collector struct {
	mu        sync.Mutex
	nowFn     func() time.Time
	start     time.Time
	rows      int64
	bytes     int64
	dedupe    int64
	latencies []float64
}

type Option func(*Collector)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.nowFn = now
	}
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.start = c.nowFn()
	return c
}

// ObserveBatch records one processed batch. rows counts rows read from
// the source, before dedupe dropped any.
func (c *Collector) ObserveBatch(rows int, bytes int64, dedupeHits int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows += int64(rows)
	c.bytes += bytes
	c.dedupe += int64(dedupeHits)
	c.latencies = append(c.latencies, float64(latency))
}

// Snapshot finalizes the collector against the elapsed wall clock.
// Batch latency p95 falls back to the observed max below 20 samples,
// where an interpolated percentile is not meaningful.
func (c *Collector) Snapshot() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.nowFn().Sub(c.start).Seconds()
	s := &Snapshot{
		RowCount:        c.rows,
		BytesProcessed:  c.bytes,
		DedupeHits:      c.dedupe,
		BatchCount:      len(c.latencies),
		DurationSeconds: elapsed,
	}
	if elapsed > 0 {
		s.RowsPerSecond = float64(c.rows) / elapsed
		s.MBPerSecond = float64(c.bytes) / (1 << 20) / elapsed
	}
	if len(c.latencies) == 0 {
		return s, nil
	}

	var (
		p95 float64
		err error
	)
	if len(c.latencies) < 20 {
		p95, err = stats.Max(c.latencies)
	} else {
		p95, err = stats.Percentile(c.latencies, 95)
	}
	if err != nil {
		return nil, fmt.Errorf("computing batch latency p95: %w", err)
	}
	s.BatchLatencyP95 = time.Duration(p95)
	return s, nil
}
