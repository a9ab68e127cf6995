package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"edit_worker/handler"
)

// fakeProcessor records payloads and answers with a fixed response.
type fakeProcessor struct {
	mu       sync.Mutex
	payloads []map[string]any
	resp     handler.Response
	delay    time.Duration
}

func (p *fakeProcessor) ProcessPayload(ctx context.Context, raw map[string]any) handler.Response {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, raw)
	return p.resp
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// rejectingOps refuses every operation, like a shutdown manager that has
// started shutting down.
type rejectingOps struct{}

func (rejectingOps) WrapOperation(context.Context, string, func(context.Context) error) error {
	return errors.New("operation tracker is closed")
}

func testPollerConfig(base string) PollerConfig {
	return PollerConfig{
		TakeURL:      base + "/job-take/$ID",
		DoneURL:      base + "/job-done/$ID",
		APIKey:       "queue-secret",
		WorkerID:     "worker-1",
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
		RetryCount:   -1,
		RetryWait:    time.Millisecond,
	}
}

func TestNewPoller_RequiresTakeURL(t *testing.T) {
	_, err := NewPoller(PollerConfig{}, &fakeProcessor{}, nil, nil)
	if !errors.Is(err, ErrNoTakeURL) {
		t.Fatalf("NewPoller() error = %v, want ErrNoTakeURL", err)
	}
}

func TestPoller_Take(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantJob bool
		wantErr bool
	}{
		{"job available", http.StatusOK, `{"id":"job-1","input":{"prompt":"x"}}`, true, false},
		{"queue empty", http.StatusNoContent, "", false, false},
		{"empty 200 body", http.StatusOK, "", false, false},
		{"server error", http.StatusInternalServerError, "boom", false, true},
		{"malformed body", http.StatusOK, "{not json", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/job-take/worker-1" {
					t.Errorf("path = %s, want /job-take/worker-1", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "queue-secret" {
					t.Errorf("Authorization = %q", got)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, err := NewPoller(testPollerConfig(srv.URL), &fakeProcessor{}, nil, nil)
			if err != nil {
				t.Fatalf("NewPoller() error = %v", err)
			}

			job, err := p.Take(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Take() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (job != nil) != tt.wantJob {
				t.Fatalf("Take() job = %v, wantJob %v", job, tt.wantJob)
			}
			if tt.wantJob && job["id"] != "job-1" {
				t.Errorf("job id = %v", job["id"])
			}
		})
	}
}

func TestPoller_TakeRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"id":"job-2","input":{}}`)
	}))
	defer srv.Close()

	cfg := testPollerConfig(srv.URL)
	cfg.RetryCount = 3
	p, err := NewPoller(cfg, &fakeProcessor{}, nil, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	job, err := p.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if job["id"] != "job-2" {
		t.Errorf("job = %v", job)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3", got)
	}
}

func TestPoller_Report(t *testing.T) {
	tests := []struct {
		name string
		resp handler.Response
		want map[string]any
	}{
		{
			name: "success wraps output",
			resp: handler.Response{ImageBase64: "aGk="},
			want: map[string]any{"output": map[string]any{"image_base64": "aGk="}},
		},
		{
			name: "failure reports error",
			resp: handler.Response{Error: "invalid image data"},
			want: map[string]any{"error": "invalid image data"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/job-done/job-9" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode body: %v", err)
				}
			}))
			defer srv.Close()

			p, _ := NewPoller(testPollerConfig(srv.URL), &fakeProcessor{}, nil, nil)
			if err := p.Report(context.Background(), "job-9", tt.resp); err != nil {
				t.Fatalf("Report() error = %v", err)
			}

			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("body = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestPoller_ReportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := NewPoller(testPollerConfig(srv.URL), &fakeProcessor{}, nil, nil)
	if err := p.Report(context.Background(), "job-1", handler.Response{ImageBase64: "x"}); err == nil {
		t.Fatal("Report() error = nil for 401")
	}
}

// queueServer hands out jobs once each, then answers 204, and forwards
// every posted result on done.
func queueServer(t *testing.T, jobs []string, done chan<- map[string]any) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/job-take/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if len(jobs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		io.WriteString(w, jobs[0])
		jobs = jobs[1:]
	})
	mux.HandleFunc("/job-done/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		body["_path"] = r.URL.Path
		done <- body
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPoller_RunProcessesJobsInOrder(t *testing.T) {
	done := make(chan map[string]any, 2)
	srv := queueServer(t, []string{
		`{"id":"a","input":{"prompt":"first"}}`,
		`{"id":"b","input":{"prompt":"second"}}`,
	}, done)

	proc := &fakeProcessor{resp: handler.Response{ImageBase64: "aW1n"}}
	p, err := NewPoller(testPollerConfig(srv.URL), proc, nil, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	var results []map[string]any
	for len(results) < 2 {
		select {
		case r := <-done:
			results = append(results, r)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if results[0]["_path"] != "/job-done/a" || results[1]["_path"] != "/job-done/b" {
		t.Errorf("result order = %v, %v", results[0]["_path"], results[1]["_path"])
	}
	if proc.calls() != 2 {
		t.Errorf("processed %d jobs, want 2", proc.calls())
	}
	if proc.payloads[0]["input"].(map[string]any)["prompt"] != "first" {
		t.Errorf("first payload = %v", proc.payloads[0])
	}
}

func TestPoller_RejectedJobReportsShutdown(t *testing.T) {
	done := make(chan map[string]any, 1)
	srv := queueServer(t, []string{`{"id":"late","input":{}}`}, done)

	proc := &fakeProcessor{}
	p, _ := NewPoller(testPollerConfig(srv.URL), proc, rejectingOps{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case r := <-done:
		if r["error"] != MsgShuttingDown {
			t.Errorf("reported %v, want error %q", r, MsgShuttingDown)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for report")
	}
	if proc.calls() != 0 {
		t.Error("rejected job was processed")
	}
}
