// Package metrics keeps in-process aggregate statistics about processed jobs.
// This file contains atom-level type definitions with no behavior.
package metrics

import "time"

// Job status values.
const (
	JobStatusSuccess = "success"
	JobStatusError   = "error"
)

// Health values reported by SystemStatus.
const (
	HealthRunning  = "running"
	HealthDegraded = "degraded"
)

// JobRecord is the outcome of one processed job.
type JobRecord struct {
	// RequestID correlates the record with the diagnostic log
	RequestID string `json:"request_id"`

	// JobID is the runtime-assigned job identifier, if any
	JobID string `json:"job_id,omitempty"`

	// Status is JobStatusSuccess or JobStatusError
	Status string `json:"status"`

	// ErrorCategory classifies the failure; empty on success
	ErrorCategory string `json:"error_category,omitempty"`

	// Total is wall time from request start to response
	Total time.Duration `json:"total"`

	// Inference is the time spent inside the engine call
	Inference time.Duration `json:"inference"`

	// FinishedAt is when the response was produced
	FinishedAt time.Time `json:"finished_at"`
}

// JobStats is the aggregate over every recorded job.
type JobStats struct {
	TotalProcessed int64 `json:"total_processed"`
	TotalSuccess   int64 `json:"total_success"`
	TotalErrors    int64 `json:"total_errors"`

	// SuccessRate is the percentage of successful jobs (0-100)
	SuccessRate float64 `json:"success_rate"`

	// AvgTotal and AvgInference average over successful jobs only
	AvgTotal     time.Duration `json:"avg_total"`
	AvgInference time.Duration `json:"avg_inference"`

	// ByCategory counts failures per error category
	ByCategory map[string]int64 `json:"by_category"`

	LastJobAt time.Time `json:"last_job_at,omitempty"`
}

// SystemStatus is the worker's overall health.
type SystemStatus struct {
	// Health is HealthRunning or HealthDegraded
	Health string `json:"health"`

	Version string `json:"version"`

	Uptime time.Duration `json:"uptime"`

	LastCheck time.Time `json:"last_check"`
}
