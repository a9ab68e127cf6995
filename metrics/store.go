package metrics

import (
	"sync"
	"time"
)

// Store is an in-memory Collector. It keeps running totals over every job
// and a bounded history of recent records.
//
// Usage:
//
//	store := NewStore(DefaultStoreConfig(), time.Now())
//	store.RecordJob(record)
//	stats := store.GetJobStats()
type Store struct {
	mu sync.RWMutex

	// Circular buffer of recent jobs
	history  []JobRecord
	histCap  int
	histHead int
	histSize int

	totalJobs      int64
	totalSuccess   int64
	totalErrors    int64
	totalDuration  time.Duration // successful jobs only
	totalInference time.Duration // successful jobs only
	byCategory     map[string]int64
	lastJobAt      time.Time

	// degradedAfter consecutive worker-side failures flip health to degraded
	degradedAfter       int
	consecutiveFailures int
	clientCategories    map[string]bool

	startTime time.Time
	version   string
}

// StoreConfig configures the Store.
type StoreConfig struct {
	// HistoryCapacity is the max number of recent jobs retained
	HistoryCapacity int

	// DegradedAfter is the number of consecutive failures that marks the
	// worker degraded
	DegradedAfter int

	// ClientErrorCategories are failures caused by the request, such as bad
	// input. They are counted but neither extend nor reset the failure streak.
	ClientErrorCategories []string

	Version string
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HistoryCapacity: 100,
		DegradedAfter:   5,
		Version:         "0.0.0",
	}
}

// NewStore creates a Store. startTime is used to calculate uptime.
func NewStore(config StoreConfig, startTime time.Time) *Store {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}
	degradedAfter := config.DegradedAfter
	if degradedAfter < 1 {
		degradedAfter = 5
	}

	clientCategories := make(map[string]bool, len(config.ClientErrorCategories))
	for _, c := range config.ClientErrorCategories {
		clientCategories[c] = true
	}

	return &Store{
		history:          make([]JobRecord, capacity),
		histCap:          capacity,
		byCategory:       make(map[string]int64),
		degradedAfter:    degradedAfter,
		clientCategories: clientCategories,
		startTime:        startTime,
		version:          config.Version,
	}
}

// RecordJob adds a finished job.
func (s *Store) RecordJob(job JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.histHead] = job
	s.histHead = (s.histHead + 1) % s.histCap
	if s.histSize < s.histCap {
		s.histSize++
	}

	s.totalJobs++
	if job.Status == JobStatusSuccess {
		s.totalSuccess++
		s.totalDuration += job.Total
		s.totalInference += job.Inference
		s.consecutiveFailures = 0
	} else {
		s.totalErrors++
		if !s.clientCategories[job.ErrorCategory] {
			s.consecutiveFailures++
		}
		if job.ErrorCategory != "" {
			s.byCategory[job.ErrorCategory]++
		}
	}

	if job.FinishedAt.After(s.lastJobAt) {
		s.lastJobAt = job.FinishedAt
	}
}

// GetJobStats returns aggregate statistics.
func (s *Store) GetJobStats() JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := JobStats{
		TotalProcessed: s.totalJobs,
		TotalSuccess:   s.totalSuccess,
		TotalErrors:    s.totalErrors,
		ByCategory:     make(map[string]int64, len(s.byCategory)),
		LastJobAt:      s.lastJobAt,
	}
	for category, n := range s.byCategory {
		stats.ByCategory[category] = n
	}
	if s.totalJobs > 0 {
		stats.SuccessRate = float64(s.totalSuccess) / float64(s.totalJobs) * 100
	}
	if s.totalSuccess > 0 {
		stats.AvgTotal = s.totalDuration / time.Duration(s.totalSuccess)
		stats.AvgInference = s.totalInference / time.Duration(s.totalSuccess)
	}
	return stats
}

// GetRecentJobs returns up to limit most recent records, oldest first.
func (s *Store) GetRecentJobs(limit int) []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.histSize == 0 {
		return []JobRecord{}
	}
	if limit > s.histSize {
		limit = s.histSize
	}

	result := make([]JobRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.histHead - limit + i + s.histCap) % s.histCap
		result[i] = s.history[idx]
	}
	return result
}

// GetSystemStatus reports degraded after DegradedAfter consecutive
// worker-side failures.
func (s *Store) GetSystemStatus() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := HealthRunning
	if s.consecutiveFailures >= s.degradedAfter {
		health = HealthDegraded
	}

	return SystemStatus{
		Health:    health,
		Version:   s.version,
		Uptime:    time.Since(s.startTime),
		LastCheck: time.Now(),
	}
}
