// Package metrics provides operational counters for the MCP bridge.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks operational metrics for the bridge.
// All fields are safe for concurrent access.
type Metrics struct {
	// MCP surface
	ToolCalls      atomic.Int64
	ToolErrors     atomic.Int64
	ResourceReads  atomic.Int64
	ResourceErrors atomic.Int64
	PromptGets     atomic.Int64

	// Team server traffic
	UpstreamRequests atomic.Int64
	UpstreamFailures atomic.Int64

	// Timing
	startTime    time.Time
	lastUpstream atomic.Value // time.Time
	avgLatencyNs atomic.Int64
	latencyCount atomic.Int64

	mu sync.RWMutex
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	Uptime           string    `json:"uptime"`
	ToolCalls        int64     `json:"tool_calls"`
	ToolErrors       int64     `json:"tool_errors"`
	ResourceReads    int64     `json:"resource_reads"`
	ResourceErrors   int64     `json:"resource_errors"`
	PromptGets       int64     `json:"prompt_gets"`
	UpstreamRequests int64     `json:"upstream_requests"`
	UpstreamFailures int64     `json:"upstream_failures"`
	AvgLatencyMs     float64   `json:"avg_upstream_latency_ms"`
	LastUpstream     string    `json:"last_upstream_request,omitempty"`
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordUpstream records one team server round trip.
// A transport error or a non-2xx status counts as a failure.
func (m *Metrics) RecordUpstream(d time.Duration, failed bool) {
	m.UpstreamRequests.Add(1)
	if failed {
		m.UpstreamFailures.Add(1)
	}
	m.lastUpstream.Store(time.Now())
	m.RecordLatency(d)
}

// RecordLatency records a single latency measurement and updates the running average.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	count := m.latencyCount.Add(1)

	// newAvg = oldAvg + (newValue - oldAvg) / count, retried until the CAS wins.
	for {
		oldAvg := m.avgLatencyNs.Load()
		newAvg := oldAvg + (ns-oldAvg)/count
		if m.avgLatencyNs.CompareAndSwap(oldAvg, newAvg) {
			break
		}
		count = m.latencyCount.Load()
		if count == 0 {
			count = 1
		}
	}
}

// Uptime returns the duration since the metrics instance was created or reset.
func (m *Metrics) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// AvgLatency returns the average recorded latency, or 0 if none was recorded.
func (m *Metrics) AvgLatency() time.Duration {
	return time.Duration(m.avgLatencyNs.Load())
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:        time.Now(),
		Uptime:           m.Uptime().Round(time.Millisecond).String(),
		ToolCalls:        m.ToolCalls.Load(),
		ToolErrors:       m.ToolErrors.Load(),
		ResourceReads:    m.ResourceReads.Load(),
		ResourceErrors:   m.ResourceErrors.Load(),
		PromptGets:       m.PromptGets.Load(),
		UpstreamRequests: m.UpstreamRequests.Load(),
		UpstreamFailures: m.UpstreamFailures.Load(),
		AvgLatencyMs:     float64(m.avgLatencyNs.Load()) / float64(time.Millisecond),
	}

	if v := m.lastUpstream.Load(); v != nil {
		if t, ok := v.(time.Time); ok && !t.IsZero() {
			snap.LastUpstream = t.Format(time.RFC3339)
		}
	}

	return snap
}

// ToJSON returns the indented JSON encoding of the current snapshot.
func (m *Metrics) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m.Snapshot(), "", "  ")
}

// Reset zeroes all counters and restarts the uptime clock.
func (m *Metrics) Reset() {
	m.ToolCalls.Store(0)
	m.ToolErrors.Store(0)
	m.ResourceReads.Store(0)
	m.ResourceErrors.Store(0)
	m.PromptGets.Store(0)
	m.UpstreamRequests.Store(0)
	m.UpstreamFailures.Store(0)
	m.avgLatencyNs.Store(0)
	m.latencyCount.Store(0)
	m.lastUpstream.Store(time.Time{})

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
