package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	operations := []string{OpLookup, OpReserve, OpUploadChunk, OpCommit}
	for _, op := range operations {
		tracker.Record(op, 1*time.Millisecond)
		tracker.Record(op, 5*time.Millisecond)
		tracker.Record(op, 10*time.Millisecond)
		tracker.Record(op, 50*time.Millisecond)
		tracker.Record(op, 100*time.Millisecond)
	}

	for _, op := range operations {
		stats, err := tracker.GetStats(op)
		if err != nil {
			t.Errorf("Failed to get stats for %s: %v", op, err)
			continue
		}
		if stats.Count != 5 {
			t.Errorf("Expected count 5 for %s, got %d", op, stats.Count)
		}
		if stats.Min < 0.9 || stats.Min > 1.1 {
			t.Errorf("Expected min ~1ms for %s, got %.2fms", op, stats.Min)
		}
		if stats.Max < 99 || stats.Max > 101 {
			t.Errorf("Expected max ~100ms for %s, got %.2fms", op, stats.Max)
		}
		if stats.P50 < 5 || stats.P50 > 15 {
			t.Errorf("Expected p50 ~10ms for %s, got %.2fms", op, stats.P50)
		}
	}

	allStats := tracker.GetAllStats()
	if len(allStats) != len(operations) {
		t.Fatalf("Expected %d operations in GetAllStats, got %d", len(operations), len(allStats))
	}
	for i := 1; i < len(allStats); i++ {
		if allStats[i-1].Operation > allStats[i].Operation {
			t.Errorf("GetAllStats not sorted: %s before %s", allStats[i-1].Operation, allStats[i].Operation)
		}
	}

	if _, err := tracker.GetStats("nonexistent"); err == nil {
		t.Error("Expected error for non-existent operation, got nil")
	}
}

func TestLatencyTrackerTime(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	done := tracker.Time(OpDownload)
	time.Sleep(5 * time.Millisecond)
	done()

	stats, err := tracker.GetStats(OpDownload)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Count != 1 {
		t.Errorf("Expected count 1, got %d", stats.Count)
	}
	if stats.Min < 4 {
		t.Errorf("Expected min >= 4ms, got %.2fms", stats.Min)
	}
}

func TestLatencyTrackerRecordFuncKeepsError(t *testing.T) {
	tracker := NewLatencyTracker(0.01)
	wantErr := errors.New("commit failed")

	err := tracker.RecordFunc(OpCommit, func() error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("RecordFunc returned %v, want %v", err, wantErr)
	}

	stats, err := tracker.GetStats(OpCommit)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Count != 1 {
		t.Errorf("Expected count 1, got %d", stats.Count)
	}
}

func TestNilTrackerIsNoop(t *testing.T) {
	var tracker *LatencyTracker
	tracker.Record(OpLookup, time.Millisecond)
	tracker.Time(OpLookup)()
	if stats := tracker.GetAllStats(); stats != nil {
		t.Errorf("Expected nil stats from nil tracker, got %v", stats)
	}
}

func TestStatsString(t *testing.T) {
	stats := Stats{
		Operation: OpUploadChunk,
		Count:     100,
		Min:       1.5,
		P50:       10.2,
		P90:       50.7,
		P95:       75.3,
		P99:       99.1,
		Max:       120.5,
	}

	expected := "  upload_chunk (n=100): min=1.50ms p50=10.20ms p90=50.70ms p95=75.30ms p99=99.10ms max=120.50ms"
	if str := stats.String(); str != expected {
		t.Errorf("Expected:\n%s\nGot:\n%s", expected, str)
	}

	emptyStats := Stats{Operation: OpReserve}
	if str := emptyStats.String(); str != "  reserve: no data" {
		t.Errorf("Expected:\n  reserve: no data\nGot:\n%s", str)
	}
}

func BenchmarkLatencyTrackerRecord(b *testing.B) {
	tracker := NewLatencyTracker(0.01)
	duration := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.Record(OpUploadChunk, duration)
	}
}
