package diagnostics

import (
	"time"

	"go.uber.org/zap"

	"edit_worker/logging"
)

// Phase is a step of the request lifecycle.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseValidate Phase = "validate"
	PhaseDecode   Phase = "decode"
	PhaseInfer    Phase = "infer"
	PhaseEncode   Phase = "encode"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// Event is what happened to a phase.
type Event string

const (
	EventStart Event = "start"
	EventEnd   Event = "end"
	EventFail  Event = "fail"
)

// Record is one diagnostic entry. Records are append-only and never read
// back by the worker.
type Record struct {
	RequestID string
	JobID     string
	Phase     Phase
	Event     Event
	Timestamp time.Time

	// Elapsed is the phase duration for EventEnd and EventFail, and the total
	// request duration for PhaseComplete and PhaseError.
	Elapsed time.Duration

	// Category and Error are set for EventFail.
	Category string
	Error    string
}

// Sink receives records. Write must not block for long and never fails the
// request: diagnostics are observational.
type Sink interface {
	Write(rec Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec Record)

func (f SinkFunc) Write(rec Record) { f(rec) }

// LoggerSink writes records as structured log entries.
type LoggerSink struct {
	logger *logging.Logger
}

// NewLoggerSink creates a sink writing to logger.
func NewLoggerSink(logger *logging.Logger) *LoggerSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LoggerSink{logger: logger}
}

// Write logs rec at info level, or error level for failures.
func (s *LoggerSink) Write(rec Record) {
	fields := []zap.Field{
		zap.String(logging.FieldRequestID, rec.RequestID),
		zap.String(logging.FieldPhase, string(rec.Phase)),
		zap.String(logging.FieldEvent, string(rec.Event)),
	}
	if rec.JobID != "" {
		fields = append(fields, zap.String(logging.FieldJobID, rec.JobID))
	}
	if rec.Event != EventStart {
		fields = append(fields, zap.Float64(logging.FieldElapsedSeconds, rec.Elapsed.Seconds()))
	}

	if rec.Event == EventFail {
		fields = append(fields,
			zap.String(logging.FieldErrorCategory, rec.Category),
			zap.String("error", rec.Error))
		s.logger.Error(string(rec.Phase)+" failed", fields...)
		return
	}
	s.logger.Info(string(rec.Phase)+" "+string(rec.Event), fields...)
}
