package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewStore(t *testing.T) {
	t.Run("creates store with default config", func(t *testing.T) {
		store := NewStore(DefaultStoreConfig(), time.Now())

		if store.histCap != 100 {
			t.Errorf("expected history capacity 100, got %d", store.histCap)
		}
		if store.version != "0.0.0" {
			t.Errorf("expected version 0.0.0, got %s", store.version)
		}
	})

	t.Run("handles zero values by defaulting", func(t *testing.T) {
		store := NewStore(StoreConfig{}, time.Now())

		if store.histCap != 100 {
			t.Errorf("expected default capacity 100, got %d", store.histCap)
		}
		if store.degradedAfter != 5 {
			t.Errorf("expected default degradedAfter 5, got %d", store.degradedAfter)
		}
	})
}

func TestStore_RecordJob(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), time.Now())
	finished := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	store.RecordJob(JobRecord{RequestID: "req_1", Status: JobStatusSuccess, Total: 3 * time.Second, Inference: 2 * time.Second, FinishedAt: finished})
	store.RecordJob(JobRecord{RequestID: "req_2", Status: JobStatusSuccess, Total: 5 * time.Second, Inference: 4 * time.Second, FinishedAt: finished.Add(time.Minute)})
	store.RecordJob(JobRecord{RequestID: "req_3", Status: JobStatusError, ErrorCategory: "decode", Total: time.Millisecond})
	store.RecordJob(JobRecord{RequestID: "req_4", Status: JobStatusError, ErrorCategory: "decode"})
	store.RecordJob(JobRecord{RequestID: "req_5", Status: JobStatusError, ErrorCategory: "validation"})

	stats := store.GetJobStats()
	if stats.TotalProcessed != 5 || stats.TotalSuccess != 2 || stats.TotalErrors != 3 {
		t.Errorf("totals = %d/%d/%d, want 5/2/3", stats.TotalProcessed, stats.TotalSuccess, stats.TotalErrors)
	}
	if stats.SuccessRate != 40 {
		t.Errorf("SuccessRate = %f, want 40", stats.SuccessRate)
	}
	if stats.AvgTotal != 4*time.Second {
		t.Errorf("AvgTotal = %v, want 4s", stats.AvgTotal)
	}
	if stats.AvgInference != 3*time.Second {
		t.Errorf("AvgInference = %v, want 3s", stats.AvgInference)
	}
	if stats.ByCategory["decode"] != 2 || stats.ByCategory["validation"] != 1 {
		t.Errorf("ByCategory = %v", stats.ByCategory)
	}
	if !stats.LastJobAt.Equal(finished.Add(time.Minute)) {
		t.Errorf("LastJobAt = %v", stats.LastJobAt)
	}
}

func TestStore_GetJobStatsReturnsCopy(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), time.Now())
	store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "engine"})

	stats := store.GetJobStats()
	stats.ByCategory["engine"] = 99

	if got := store.GetJobStats().ByCategory["engine"]; got != 1 {
		t.Errorf("store mutated through returned map: %d", got)
	}
}

func TestStore_GetRecentJobs(t *testing.T) {
	store := NewStore(StoreConfig{HistoryCapacity: 3}, time.Now())
	for i := 1; i <= 5; i++ {
		store.RecordJob(JobRecord{RequestID: fmt.Sprintf("req_%d", i), Status: JobStatusSuccess})
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{0, nil},
		{2, []string{"req_4", "req_5"}},
		{3, []string{"req_3", "req_4", "req_5"}},
		{10, []string{"req_3", "req_4", "req_5"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			got := store.GetRecentJobs(tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].RequestID != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, got[i].RequestID, tt.want[i])
				}
			}
		})
	}
}

func TestStore_GetSystemStatus(t *testing.T) {
	store := NewStore(StoreConfig{DegradedAfter: 2, Version: "1.0.0"}, time.Now().Add(-time.Minute))

	if got := store.GetSystemStatus(); got.Health != HealthRunning || got.Version != "1.0.0" {
		t.Errorf("initial status = %+v", got)
	}
	if store.GetSystemStatus().Uptime < time.Minute {
		t.Error("uptime shorter than elapsed time")
	}

	store.RecordJob(JobRecord{Status: JobStatusError})
	store.RecordJob(JobRecord{Status: JobStatusError})
	if got := store.GetSystemStatus().Health; got != HealthDegraded {
		t.Errorf("health after 2 failures = %s, want degraded", got)
	}

	store.RecordJob(JobRecord{Status: JobStatusSuccess})
	if got := store.GetSystemStatus().Health; got != HealthRunning {
		t.Errorf("health after success = %s, want running", got)
	}
}

func TestStore_ClientErrorsKeepHealth(t *testing.T) {
	store := NewStore(StoreConfig{
		DegradedAfter:         2,
		ClientErrorCategories: []string{"validation", "decode"},
	}, time.Now())

	for i := 0; i < 5; i++ {
		store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "decode"})
		store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "validation"})
	}
	if got := store.GetSystemStatus().Health; got != HealthRunning {
		t.Errorf("health after client errors = %s, want running", got)
	}
	if stats := store.GetJobStats(); stats.TotalErrors != 10 || stats.ByCategory["decode"] != 5 {
		t.Errorf("client errors not counted: %+v", stats)
	}

	store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "engine"})
	store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "decode"})
	store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "out_of_memory"})
	if got := store.GetSystemStatus().Health; got != HealthDegraded {
		t.Errorf("health after 2 engine failures = %s, want degraded", got)
	}

	store.RecordJob(JobRecord{Status: JobStatusError, ErrorCategory: "validation"})
	if got := store.GetSystemStatus().Health; got != HealthDegraded {
		t.Errorf("client error reset the failure streak: health = %s", got)
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	store := NewStore(DefaultStoreConfig(), time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.RecordJob(JobRecord{Status: JobStatusSuccess})
			_ = store.GetJobStats()
		}()
	}
	wg.Wait()

	if got := store.GetJobStats().TotalProcessed; got != 50 {
		t.Errorf("TotalProcessed = %d, want 50", got)
	}
}

func TestInterfaces(t *testing.T) {
	var _ Collector = (*Store)(nil)
	var _ Recorder = NopRecorder{}
}
