package diagnostics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"edit_worker/logging"
	"edit_worker/metrics"
)

// Diagnostics mints a Tracker per request. It is shared by every job.
type Diagnostics struct {
	sink       Sink
	metricsLog *logging.Logger
	recorder   metrics.Recorder
	now        func() time.Time
}

// Option configures Diagnostics.
type Option func(*Diagnostics)

// WithSink replaces the default LoggerSink.
func WithSink(s Sink) Option {
	return func(d *Diagnostics) {
		if s != nil {
			d.sink = s
		}
	}
}

// WithRecorder sends every finished job to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Diagnostics) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Diagnostics) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates Diagnostics writing phase records to logger and the terminal
// metrics line to logger.Named("metrics").
func New(logger *logging.Logger, opts ...Option) *Diagnostics {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Diagnostics{
		sink:       NewLoggerSink(logger.Named("diagnostics")),
		metricsLog: logger.Named("metrics"),
		recorder:   metrics.NopRecorder{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Begin starts tracking a request under a fresh request ID and emits the
// init record.
func (d *Diagnostics) Begin(jobID string) *Tracker {
	t := &Tracker{
		d:          d,
		requestID:  NewRequestID(),
		jobID:      jobID,
		start:      d.now(),
		phaseStart: make(map[Phase]time.Time),
	}
	t.Start(PhaseInit)
	return t
}

// Tracker follows one request through its phases. Safe for concurrent use,
// though a request normally runs on one goroutine.
type Tracker struct {
	d         *Diagnostics
	requestID string
	jobID     string
	start     time.Time

	mu         sync.Mutex
	phaseStart map[Phase]time.Time
	inference  time.Duration
	failed     bool
	category   string
	finished   bool
	result     logging.JobMetrics
}

// RequestID returns the ID shared by every record of this request.
func (t *Tracker) RequestID() string { return t.requestID }

// JobID returns the runtime job ID, possibly empty.
func (t *Tracker) JobID() string { return t.jobID }

// Start marks the beginning of phase.
func (t *Tracker) Start(phase Phase) {
	now := t.d.now()

	t.mu.Lock()
	t.phaseStart[phase] = now
	t.mu.Unlock()

	t.emit(Record{Phase: phase, Event: EventStart, Timestamp: now})
}

// End marks the successful end of phase and returns its duration. Ending a
// phase that was never started reports zero.
func (t *Tracker) End(phase Phase) time.Duration {
	now := t.d.now()
	elapsed := t.closePhase(phase, now)

	t.emit(Record{Phase: phase, Event: EventEnd, Timestamp: now, Elapsed: elapsed})
	return elapsed
}

// Fail marks phase as failed. The first failure decides the job's category.
func (t *Tracker) Fail(phase Phase, category string, err error) {
	now := t.d.now()
	elapsed := t.closePhase(phase, now)

	t.mu.Lock()
	if !t.failed {
		t.failed = true
		t.category = category
	}
	t.mu.Unlock()

	rec := Record{Phase: phase, Event: EventFail, Timestamp: now, Elapsed: elapsed, Category: category}
	if err != nil {
		rec.Error = err.Error()
	}
	t.emit(rec)
}

func (t *Tracker) closePhase(phase Phase, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	started, ok := t.phaseStart[phase]
	if !ok {
		return 0
	}
	delete(t.phaseStart, phase)

	elapsed := now.Sub(started)
	if phase == PhaseInfer {
		t.inference += elapsed
	}
	return elapsed
}

// Finish emits the terminal record and exactly one metrics line, and hands
// the outcome to the metrics recorder. Later calls return the first result
// without emitting anything.
func (t *Tracker) Finish() logging.JobMetrics {
	now := t.d.now()

	t.mu.Lock()
	if t.finished {
		res := t.result
		t.mu.Unlock()
		return res
	}
	t.finished = true
	t.result = logging.JobMetrics{
		RequestID:     t.requestID,
		JobID:         t.jobID,
		Total:         now.Sub(t.start),
		Inference:     t.inference,
		Success:       !t.failed,
		ErrorCategory: t.category,
	}
	res := t.result
	t.mu.Unlock()

	phase := PhaseComplete
	if !res.Success {
		phase = PhaseError
	}
	t.emit(Record{Phase: phase, Event: EventEnd, Timestamp: now, Elapsed: res.Total})

	if res.Success {
		t.d.metricsLog.Info(logging.MetricsMessage, logging.JobMetricsFields(res)...)
	} else {
		t.d.metricsLog.Warn(logging.MetricsMessage, logging.JobMetricsFields(res)...)
	}

	status := metrics.JobStatusSuccess
	if !res.Success {
		status = metrics.JobStatusError
	}
	t.d.recorder.RecordJob(metrics.JobRecord{
		RequestID:     res.RequestID,
		JobID:         res.JobID,
		Status:        status,
		ErrorCategory: res.ErrorCategory,
		Total:         res.Total,
		Inference:     res.Inference,
		FinishedAt:    now,
	})

	return res
}

// Logger returns logger with this request's correlation fields attached.
func (t *Tracker) Logger(logger *logging.Logger) *logging.Logger {
	fields := []zap.Field{zap.String(logging.FieldRequestID, t.requestID)}
	if t.jobID != "" {
		fields = append(fields, zap.String(logging.FieldJobID, t.jobID))
	}
	return logger.With(fields...)
}

func (t *Tracker) emit(rec Record) {
	rec.RequestID = t.requestID
	rec.JobID = t.jobID
	t.d.sink.Write(rec)
}
