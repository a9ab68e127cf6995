package metrics

// Recorder accepts job outcomes. Implementations must be safe for concurrent
// use and must not block the caller.
type Recorder interface {
	RecordJob(job JobRecord)
}

// Collector is a Recorder that can also report what it has recorded.
type Collector interface {
	Recorder

	// GetJobStats returns aggregate statistics over all recorded jobs.
	GetJobStats() JobStats

	// GetRecentJobs returns up to limit most recent records, oldest first.
	GetRecentJobs(limit int) []JobRecord

	// GetSystemStatus returns overall health derived from recent outcomes.
	GetSystemStatus() SystemStatus
}

// NopRecorder discards every record.
type NopRecorder struct{}

func (NopRecorder) RecordJob(JobRecord) {}
