package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"edit_worker/logging"
)

// CleanupTempFiles returns a handler that removes files in dir matching any
// of patterns and last modified more than olderThan ago. Recent files are
// left alone since another worker on the host may still be using them.
//
// Failures are logged, never returned, so cleanup cannot fail a shutdown.
//
//	m.Register("temp-files", 40, shutdown.CleanupTempFiles(logger, os.TempDir(), time.Hour,
//	    engine.TempImagePattern, engine.TempMaskPattern))
func CleanupTempFiles(logger *logging.Logger, dir string, olderThan time.Duration, patterns ...string) ShutdownFunc {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Named("cleanup")
	return func(ctx context.Context) error {
		removeStale(ctx, log, dir, olderThan, patterns, time.Now())
		return nil
	}
}

func removeStale(ctx context.Context, log *logging.Logger, dir string, olderThan time.Duration, patterns []string, now time.Time) {
	var matches []string
	for _, p := range patterns {
		m, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			log.Warn("bad temp file pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		matches = append(matches, m...)
	}
	if len(matches) == 0 {
		return
	}

	var removed, failed int
	for _, path := range matches {
		if ctx.Err() != nil {
			log.Warn("temp file cleanup cut short", zap.Int("removed", removed))
			return
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || now.Sub(info.ModTime()) < olderThan {
			continue
		}
		if err := os.Remove(path); err != nil {
			failed++
			log.Warn("temp file not removed", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 || failed > 0 {
		log.Info("stale temp files removed",
			zap.String("dir", dir),
			zap.Int("removed", removed),
			zap.Int("failed", failed),
		)
	}
}
