package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"edit_worker/handler"
	"edit_worker/logging"
)

const (
	defaultPollInterval  = time.Second
	defaultQueueTimeout  = 30 * time.Second
	defaultRetryCount    = 3
	defaultRetryWait     = 500 * time.Millisecond
	defaultRetryMaxWait  = 5 * time.Second
	idPlaceholder        = "$ID"
	defaultQueueWorkerID = "local"
)

// ErrNoTakeURL is returned by NewPoller when no take URL is configured.
var ErrNoTakeURL = errors.New("worker: job take URL is not configured")

// PollerConfig configures the job-queue client.
type PollerConfig struct {
	// TakeURL is fetched for the next job. "$ID" is replaced by WorkerID.
	TakeURL string
	// DoneURL receives each result. "$ID" is replaced by the job ID.
	DoneURL string
	// APIKey is sent verbatim in the Authorization header.
	APIKey   string
	WorkerID string

	// PollInterval is the wait after an empty or failed take.
	PollInterval time.Duration
	Timeout      time.Duration
	// RetryCount retries failed requests; negative disables retries.
	RetryCount int
	RetryWait  time.Duration
}

// Poller pulls jobs from the job queue one at a time.
type Poller struct {
	cfg    PollerConfig
	client *resty.Client
	proc   Processor
	ops    Operations
	logger *logging.Logger
}

// NewPoller creates a Poller. ops may be nil.
func NewPoller(cfg PollerConfig, proc Processor, ops Operations, logger *logging.Logger) (*Poller, error) {
	if strings.TrimSpace(cfg.TakeURL) == "" {
		return nil, ErrNoTakeURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultQueueTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	} else if cfg.RetryCount == 0 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultQueueWorkerID
	}
	if ops == nil {
		ops = untracked{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("poller")

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(max(cfg.RetryWait, defaultRetryMaxWait)).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetLogger(logger.Zap().Sugar())
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", cfg.APIKey)
	}

	return &Poller{cfg: cfg, client: client, proc: proc, ops: ops, logger: logger}, nil
}

// Run polls until ctx is cancelled. A job already taken is finished and
// reported even if ctx is cancelled while it runs.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("job poller started",
		zap.String("worker_id", p.cfg.WorkerID),
		zap.Duration("poll_interval", p.cfg.PollInterval))

	for {
		if ctx.Err() != nil {
			p.logger.Info("job poller stopped")
			return nil
		}

		job, err := p.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("job take failed", zap.Error(err))
		}
		if job == nil {
			p.wait(ctx)
			continue
		}
		p.handle(ctx, job)
	}
}

// Take fetches the next job. It returns nil, nil when the queue is empty.
func (p *Poller) Take(ctx context.Context) (map[string]any, error) {
	url := strings.ReplaceAll(p.cfg.TakeURL, idPlaceholder, p.cfg.WorkerID)

	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("take job: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("take job: unexpected status %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var job map[string]any
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("take job: decode body: %w", err)
	}
	return job, nil
}

// Report posts resp for jobID: {"output": resp} on success, {"error": msg}
// on failure.
func (p *Poller) Report(ctx context.Context, jobID string, resp handler.Response) error {
	if p.cfg.DoneURL == "" {
		p.logger.Warn("no done URL configured, result dropped", zap.String(logging.FieldJobID, jobID))
		return nil
	}
	url := strings.ReplaceAll(p.cfg.DoneURL, idPlaceholder, jobID)

	var body map[string]any
	if resp.Failed() {
		body = map[string]any{"error": resp.Error}
	} else {
		body = map[string]any{"output": resp}
	}

	r, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("report job %s: %w", jobID, err)
	}
	if r.IsError() {
		return fmt.Errorf("report job %s: unexpected status %d", jobID, r.StatusCode())
	}
	return nil
}

func (p *Poller) handle(ctx context.Context, job map[string]any) {
	jobID, _ := job["id"].(string)
	log := p.logger.With(zap.String(logging.FieldJobID, jobID))
	log.Info("job received")

	// The job outlives a shutdown signal; shutdown waits for it instead.
	jobCtx := context.WithoutCancel(ctx)

	var resp handler.Response
	err := p.ops.WrapOperation(jobCtx, "job", func(ctx context.Context) error {
		resp = p.proc.ProcessPayload(ctx, job)
		return nil
	})
	if err != nil {
		log.Warn("job rejected", zap.Error(err))
		resp = handler.Response{Error: MsgShuttingDown}
	}

	if err := p.Report(jobCtx, jobID, resp); err != nil {
		log.Error("job result not delivered", zap.Error(err))
		return
	}
	log.Info("job reported", zap.Bool("success", !resp.Failed()))
}

func (p *Poller) wait(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
