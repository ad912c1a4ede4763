package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/storage"
)

// SweepWorkspaces removes job directories under dir that are older than
// keepDuration and do not belong to a running transfer. Jobs remove their own
// workspace on exit; this only catches what a crash left behind. It returns
// the number of directories removed.
func SweepWorkspaces(ctx context.Context, dir string, active []storage.TransferRecord, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read workspace root: %w", err)
	}

	running := make(map[string]struct{}, len(active))
	for _, rec := range active {
		running[rec.JobID] = struct{}{}
	}

	now := time.Now()
	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if !entry.IsDir() {
			continue
		}

		if _, ok := running[entry.Name()]; ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // already deleted
			}

			logger.ErrorContext(ctx, "failed to stat workspace", "path", path, "err", err)

			continue
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			logger.ErrorContext(ctx, "failed to delete stale workspace", "path", path, "err", err)

			continue
		}

		removed++

		logger.InfoContext(ctx, "deleted stale workspace", "path", path, "age", now.Sub(info.ModTime()).Round(time.Second))
	}

	return removed, nil
}
