package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"edit_worker/core"
	"edit_worker/diagnostics"
	"edit_worker/engine"
	"edit_worker/handler"
	"edit_worker/logging"
	"edit_worker/metrics"
	"edit_worker/shutdown"
	"edit_worker/worker"
)

// runnerStopTimeout bounds how long main waits for the poller or API to
// return once shutdown has finished.
const runnerStopTimeout = 5 * time.Second

// staleTempAge is how old an upload temp file must be before shutdown
// removes it.
const staleTempAge = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	testInput := flag.String("test_input", "", "JSON job payload to process once, then exit")
	flag.Parse()

	report := core.NewStartupReport(os.Stdout, "Edit Worker "+core.Version)

	switch err := godotenv.Load(); {
	case err == nil:
		report.Pass(".env", "loaded")
	case errors.Is(err, fs.ErrNotExist):
		report.Skip(".env", "not found, using environment only")
	default:
		report.Warn(".env", "ignored", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		report.Fail("Configuration", err)
		report.Finish()
		return core.ExitCodeConfig
	}
	report.Pass("Configuration", fmt.Sprintf("backend %s, model %s", cfg.Backend, cfg.ModelID))

	level := logging.ParseLevel(cfg.LogLevel, zapcore.InfoLevel)
	logger, err := logging.New(logging.Options{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Level:       &level,
	})
	if err != nil {
		report.Fail("Logger", err)
		report.Finish()
		return core.ExitCodeError
	}
	defer func() { _ = logger.Sync() }()
	report.Pass("Logger", logger.LogFilePath())

	mode, err := worker.ResolveMode(cfg.Mode, *testInput, cfg.JobTakeURL)
	if err != nil {
		report.Fail("Mode", err)
		report.Finish()
		return core.ExitCodeConfig
	}
	report.Pass("Mode", mode)

	logger.Info("edit worker starting",
		zap.String("version", core.GetVersionInfo()),
		zap.String("mode", mode),
		zap.String("backend", cfg.Backend),
		zap.String("model_id", cfg.ModelID),
		zap.String("precision", cfg.Precision),
		zap.String("device", cfg.Device),
		zap.Float64("guidance_scale", cfg.GuidanceScale),
		zap.Int("inference_steps", cfg.InferenceSteps),
		zap.Int("max_input_pixels", cfg.MaxInputPixels),
		zap.Int("max_output_pixels", cfg.MaxOutputPixels),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	store := metrics.NewStore(metrics.StoreConfig{
		Version:               core.Version,
		ClientErrorCategories: handler.ClientErrorCategories(),
	}, time.Now())
	diag := diagnostics.New(logger, diagnostics.WithRecorder(store))

	eng, err := engine.New(cfg.EngineConfig(), logger)
	if err != nil {
		report.Fail("Engine", err)
		report.Finish()
		return core.ExitCodeConfig
	}
	proc := handler.NewProcessor(eng, diag, logger, handler.Config{
		GuidanceScale:  cfg.GuidanceScale,
		Steps:          cfg.InferenceSteps,
		MaxInputPixels: cfg.MaxInputPixels,
		Memory:         eng,
	})

	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	mgr.Register("engine", 20, func(ctx context.Context) error {
		return eng.Close()
	})
	if cfg.Backend == engine.BackendOpenAI {
		mgr.Register("temp-files", 40, shutdown.CleanupTempFiles(logger, os.TempDir(), staleTempAge,
			engine.TempImagePattern, engine.TempMaskPattern))
	}
	mgr.Register("logger", 90, func(ctx context.Context) error {
		_ = logger.Sync()
		return nil
	})
	mgr.Start()

	// A failed preload is not fatal: the next job retries the load.
	if _, err := eng.EnsureReady(mgr.Context()); err != nil {
		report.Warn("Engine", "not ready, the next job retries the load", err)
	} else {
		report.Pass("Engine", eng.Status().Backend+" ready")
	}
	report.Finish()

	code := serve(mgr, mode, cfg, *testInput, proc, eng, store, logger)

	if err := mgr.Shutdown(); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		if code == core.ExitCodeSuccess {
			code = core.ExitCodeError
		}
	}
	logger.Info("edit worker stopped",
		zap.Int("exit_code", code),
		zap.String("reason", core.ExitCodeName(code)),
	)
	return code
}

// serve runs the selected mode until it ends or a signal arrives and
// returns the exit code.
func serve(mgr *shutdown.Manager, mode string, cfg *core.Config, testInput string,
	proc *handler.Processor, eng *engine.Manager, store *metrics.Store, logger *logging.Logger) int {

	if mode == worker.ModeTest {
		res, err := worker.RunTestInput(mgr.Context(), proc, testInput, worker.DefaultTestInputFile, os.Stdout)
		if err != nil {
			logger.Error("test input failed", zap.Error(err))
			return core.ExitCodeError
		}
		if res.Status == worker.StatusFailed {
			return core.ExitCodeError
		}
		return core.ExitCodeSuccess
	}

	var runner func(ctx context.Context) error
	switch mode {
	case worker.ModeQueue:
		poller, err := worker.NewPoller(cfg.PollerConfig(), proc, mgr, logger)
		if err != nil {
			logger.Error("job poller not started", zap.Error(err))
			return core.ExitCodeConfig
		}
		runner = poller.Run
	default:
		server := worker.NewServer(worker.ServerConfig{
			Addr:            cfg.APIAddr(),
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, proc, eng, store, mgr, logger)
		runner = server.ListenAndServe
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runner(mgr.Context()) }()

	select {
	case err := <-errCh:
		mgr.Trigger()
		if err != nil {
			logger.Error("worker stopped unexpectedly", zap.Error(err))
			return core.ExitCodeError
		}
		return core.ExitCodeSuccess
	case <-mgr.Context().Done():
	}

	select {
	case err := <-errCh:
		if err != nil {
			logger.Warn("worker stopped with error", zap.Error(err))
		}
	case <-time.After(cfg.ShutdownTimeout + runnerStopTimeout):
		logger.Warn("worker did not stop in time")
	}
	return core.ExitCodeForSignal(mgr.Signal())
}
