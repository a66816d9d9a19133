package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// TestNew verifies that a new Metrics instance starts at zero.
func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.ToolCalls.Load() != 0 {
		t.Errorf("ToolCalls = %d, want 0", m.ToolCalls.Load())
	}
	if m.UpstreamRequests.Load() != 0 {
		t.Errorf("UpstreamRequests = %d, want 0", m.UpstreamRequests.Load())
	}
	if m.AvgLatency() != 0 {
		t.Errorf("AvgLatency = %v, want 0", m.AvgLatency())
	}
}

// TestMetrics_RecordUpstream verifies upstream counters and latency.
func TestMetrics_RecordUpstream(t *testing.T) {
	m := New()

	m.RecordUpstream(10*time.Millisecond, false)
	m.RecordUpstream(30*time.Millisecond, true)

	if m.UpstreamRequests.Load() != 2 {
		t.Errorf("UpstreamRequests = %d, want 2", m.UpstreamRequests.Load())
	}
	if m.UpstreamFailures.Load() != 1 {
		t.Errorf("UpstreamFailures = %d, want 1", m.UpstreamFailures.Load())
	}
	if m.AvgLatency() != 20*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 20ms", m.AvgLatency())
	}

	snap := m.Snapshot()
	if snap.LastUpstream == "" {
		t.Error("LastUpstream should be set after an upstream request")
	}
}

// TestMetrics_RecordLatency verifies the running average.
func TestMetrics_RecordLatency(t *testing.T) {
	m := New()

	m.RecordLatency(100 * time.Millisecond)
	m.RecordLatency(200 * time.Millisecond)
	m.RecordLatency(300 * time.Millisecond)

	if got := m.AvgLatency(); got != 200*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 200ms", got)
	}
}

// TestMetrics_Snapshot verifies that a snapshot copies every counter.
func TestMetrics_Snapshot(t *testing.T) {
	m := New()
	m.ToolCalls.Add(5)
	m.ToolErrors.Add(2)
	m.ResourceReads.Add(3)
	m.ResourceErrors.Add(1)
	m.PromptGets.Add(4)

	snap := m.Snapshot()

	if snap.ToolCalls != 5 || snap.ToolErrors != 2 {
		t.Errorf("tool counters = %d/%d, want 5/2", snap.ToolCalls, snap.ToolErrors)
	}
	if snap.ResourceReads != 3 || snap.ResourceErrors != 1 {
		t.Errorf("resource counters = %d/%d, want 3/1", snap.ResourceReads, snap.ResourceErrors)
	}
	if snap.PromptGets != 4 {
		t.Errorf("PromptGets = %d, want 4", snap.PromptGets)
	}
	if snap.Uptime == "" {
		t.Error("Uptime should not be empty")
	}
	if snap.LastUpstream != "" {
		t.Errorf("LastUpstream = %q, want empty", snap.LastUpstream)
	}
}

// TestMetrics_ToJSON verifies the JSON field names.
func TestMetrics_ToJSON(t *testing.T) {
	m := New()
	m.ToolCalls.Add(1)
	m.RecordUpstream(5*time.Millisecond, false)

	data, err := m.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	for _, key := range []string{
		"timestamp", "uptime", "tool_calls", "tool_errors", "resource_reads",
		"resource_errors", "prompt_gets", "upstream_requests", "upstream_failures",
		"avg_upstream_latency_ms", "last_upstream_request",
	} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if decoded["tool_calls"].(float64) != 1 {
		t.Errorf("tool_calls = %v, want 1", decoded["tool_calls"])
	}
}

// TestMetrics_Reset verifies that Reset zeroes everything.
func TestMetrics_Reset(t *testing.T) {
	m := New()
	m.ToolCalls.Add(3)
	m.RecordUpstream(time.Second, true)

	m.Reset()

	snap := m.Snapshot()
	if snap.ToolCalls != 0 || snap.UpstreamRequests != 0 || snap.UpstreamFailures != 0 {
		t.Errorf("counters not reset: %+v", snap)
	}
	if snap.AvgLatencyMs != 0 {
		t.Errorf("AvgLatencyMs = %v, want 0", snap.AvgLatencyMs)
	}
	if snap.LastUpstream != "" {
		t.Errorf("LastUpstream = %q, want empty", snap.LastUpstream)
	}
}

// TestMetrics_ConcurrentAccess exercises counters from many goroutines.
func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := New()
	const workers = 50
	const perWorker = 100

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.ToolCalls.Add(1)
				m.RecordUpstream(time.Millisecond, j%10 == 0)
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := m.ToolCalls.Load(); got != workers*perWorker {
		t.Errorf("ToolCalls = %d, want %d", got, workers*perWorker)
	}
	if got := m.UpstreamRequests.Load(); got != workers*perWorker {
		t.Errorf("UpstreamRequests = %d, want %d", got, workers*perWorker)
	}
	if got := m.UpstreamFailures.Load(); got != workers*perWorker/10 {
		t.Errorf("UpstreamFailures = %d, want %d", got, workers*perWorker/10)
	}
}
