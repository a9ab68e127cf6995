package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MetricsMessage is the message of the one terminal metrics entry per job.
const MetricsMessage = "METRICS"

// JobMetrics is the terminal summary of one job.
// Implements zapcore.ObjectMarshaler for structured logging.
//
// Example:
//
//	m := JobMetrics{
//		RequestID: "req_1718000000000_0190a3f2",
//		JobID:     "job-42",
//		Total:     3200 * time.Millisecond,
//		Inference: 2900 * time.Millisecond,
//		Success:   true,
//	}
//	logger.Info(MetricsMessage, JobMetricsFields(m)...)
type JobMetrics struct {
	RequestID string `json:"request_id"`
	JobID     string `json:"job_id,omitempty"`

	// Total is wall time from request start to response.
	Total time.Duration `json:"total_seconds"`

	// Inference is time spent inside the engine call. Zero when the job
	// failed before inference.
	Inference time.Duration `json:"inference_seconds"`

	Success bool `json:"success"`

	// ErrorCategory is empty on success.
	ErrorCategory string `json:"error_category,omitempty"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
// Durations are encoded as fractional seconds.
func (m JobMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(FieldRequestID, m.RequestID)
	if m.JobID != "" {
		enc.AddString(FieldJobID, m.JobID)
	}
	enc.AddFloat64("total_seconds", m.Total.Seconds())
	enc.AddFloat64("inference_seconds", m.Inference.Seconds())
	enc.AddBool("success", m.Success)
	if m.ErrorCategory != "" {
		enc.AddString(FieldErrorCategory, m.ErrorCategory)
	}
	return nil
}

// JobMetricsFields flattens m into top-level fields so the metrics line can
// be filtered on request_id like every other entry of the same job.
func JobMetricsFields(m JobMetrics) []zap.Field {
	fields := []zap.Field{
		zap.String(FieldRequestID, m.RequestID),
		zap.Float64("total_seconds", m.Total.Seconds()),
		zap.Float64("inference_seconds", m.Inference.Seconds()),
		zap.Bool("success", m.Success),
	}
	if m.JobID != "" {
		fields = append(fields, zap.String(FieldJobID, m.JobID))
	}
	if m.ErrorCategory != "" {
		fields = append(fields, zap.String(FieldErrorCategory, m.ErrorCategory))
	}
	return fields
}

// JobMetricsField nests m under the "metrics" key.
func JobMetricsField(m JobMetrics) zap.Field {
	return zap.Object("metrics", m)
}
