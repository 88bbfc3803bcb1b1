package monitoring

import (
	"sync"
	"testing"
)

func TestRecordSearch(t *testing.T) {
	m := NewServerMetrics()

	m.RecordSearch(3)
	m.RecordSearch(1)
	m.RecordSearchFailure()
	m.RecordExport()

	snap := m.Snapshot()
	if snap.CompletedSearches != 2 {
		t.Errorf("CompletedSearches = %d, want 2", snap.CompletedSearches)
	}
	if snap.SequencesProcessed != 4 {
		t.Errorf("SequencesProcessed = %d, want 4", snap.SequencesProcessed)
	}
	if snap.FailedSearches != 1 {
		t.Errorf("FailedSearches = %d, want 1", snap.FailedSearches)
	}
	if snap.ExportsServed != 1 {
		t.Errorf("ExportsServed = %d, want 1", snap.ExportsServed)
	}
}

func TestStreamCounters(t *testing.T) {
	m := NewServerMetrics()

	m.StreamStarted()
	m.StreamStarted()
	m.StreamEnded()

	snap := m.Snapshot()
	if snap.ActiveStreams != 1 {
		t.Errorf("ActiveStreams = %d, want 1", snap.ActiveStreams)
	}
	if snap.TotalStreams != 2 {
		t.Errorf("TotalStreams = %d, want 2", snap.TotalStreams)
	}

	// Never goes negative.
	m.StreamEnded()
	m.StreamEnded()
	if snap := m.Snapshot(); snap.ActiveStreams != 0 {
		t.Errorf("ActiveStreams = %d, want 0", snap.ActiveStreams)
	}
}

func TestStatusAndSystemMetrics(t *testing.T) {
	m := NewServerMetrics()

	if !m.IsHealthy() {
		t.Error("new metrics should report healthy")
	}
	m.SetStatus("degraded")
	if m.IsHealthy() {
		t.Error("degraded metrics should not report healthy")
	}

	m.SetVersion("1.2.3")
	m.UpdateSystemMetrics()
	snap := m.Snapshot()
	if snap.Version != "1.2.3" {
		t.Errorf("Version = %q", snap.Version)
	}
	if snap.GoroutineCount <= 0 {
		t.Errorf("GoroutineCount = %d", snap.GoroutineCount)
	}
	if snap.MemoryUsageBytes <= 0 {
		t.Errorf("MemoryUsageBytes = %d", snap.MemoryUsageBytes)
	}
	if m.GetUptime() <= 0 {
		t.Error("uptime should be positive")
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := NewServerMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordSearch(1)
			m.StreamStarted()
			m.StreamEnded()
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.CompletedSearches != 50 {
		t.Errorf("CompletedSearches = %d, want 50", snap.CompletedSearches)
	}
	if snap.TotalStreams != 50 {
		t.Errorf("TotalStreams = %d, want 50", snap.TotalStreams)
	}
}
