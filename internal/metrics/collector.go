// Package metrics tracks request throughput and smoothed latency for the
// orchestrator and exposes them to Prometheus.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/strumspace/internal/logging"
)

const (
	// Alpha is the EWMA weight given to each new latency sample.
	Alpha = 0.2

	// RateWindow is the span used for requests-per-minute.
	RateWindow = time.Minute

	DefaultRateInterval  = 10 * time.Second
	DefaultResetInterval = 60 * time.Second
)

// Snapshot is a point-in-time copy of the collector's state.
type Snapshot struct {
	TotalRequests     uint64            `json:"totalRequests"`
	SuccessCount      uint64            `json:"successfulRequests"`
	FailureCount      uint64            `json:"failedRequests"`
	AverageLatencyMs  float64           `json:"averageResponseTime"`
	RequestsPerMinute int               `json:"requestsPerMinute"`
	WindowSize        int               `json:"windowSize"`
	Fallbacks         map[string]uint64 `json:"fallbacks"`
}

// Collector aggregates request outcomes. All methods are safe for
// concurrent use and never fail.
type Collector struct {
	mu        sync.Mutex
	total     uint64
	success   uint64
	failure   uint64
	avgMs     float64
	observed  bool
	window    []time.Time
	rpm       int
	fallbacks map[string]uint64
	now       func() time.Time
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		fallbacks: make(map[string]uint64),
		now:       time.Now,
	}
}

// RecordStart counts a new request and stamps it into the rate window.
func (c *Collector) RecordStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.window = append(c.window, c.now())
}

// RecordSuccess counts a completed request and folds its latency into the
// moving average. Negative latencies are clamped to zero.
func (c *Collector) RecordSuccess(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	sample := float64(latency) / float64(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.success++
	if !c.observed {
		c.avgMs = sample
		c.observed = true
		return
	}
	c.avgMs = c.avgMs*(1-Alpha) + sample*Alpha
}

// RecordFailure counts a request that ended with success=false.
func (c *Collector) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure++
}

// RecordFallback counts a synthesized response for the named service.
func (c *Collector) RecordFallback(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[service]++
}

// RecomputeRate drops window entries older than RateWindow and updates
// requests-per-minute.
func (c *Collector) RecomputeRate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-RateWindow)
	kept := c.window[:0]
	for _, ts := range c.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.window = kept
	c.rpm = len(kept)
}

// ResetWindow clears the rate window wholesale to bound memory.
func (c *Collector) ResetWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = nil
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	fb := make(map[string]uint64, len(c.fallbacks))
	for k, v := range c.fallbacks {
		fb[k] = v
	}
	return Snapshot{
		TotalRequests:     c.total,
		SuccessCount:      c.success,
		FailureCount:      c.failure,
		AverageLatencyMs:  c.avgMs,
		RequestsPerMinute: c.rpm,
		WindowSize:        len(c.window),
		Fallbacks:         fb,
	}
}

// Run drives the two periodic ticks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, rateInterval, resetInterval time.Duration) error {
	if rateInterval <= 0 {
		rateInterval = DefaultRateInterval
	}
	if resetInterval <= 0 {
		resetInterval = DefaultResetInterval
	}

	rate := time.NewTicker(rateInterval)
	defer rate.Stop()
	reset := time.NewTicker(resetInterval)
	defer reset.Stop()

	logging.Info("Metrics", "Metrics collection started (rate every %v, window reset every %v)", rateInterval, resetInterval)

	for {
		select {
		case <-rate.C:
			c.RecomputeRate()
		case <-reset.C:
			c.ResetWindow()
		case <-ctx.Done():
			logging.Debug("Metrics", "Metrics collection stopping")
			return nil
		}
	}
}
