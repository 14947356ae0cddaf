package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vault_downloader/internal/logctx"
	"vault_downloader/internal/transfer"
)

// RemoveStalePending deletes leftover staging files older than keepFor from
// the download directory. A crashed run always leaves either no archive or a
// fully-renamed one, so anything still carrying the pending suffix after this
// long is garbage from a dead process.
func RemoveStalePending(ctx context.Context, dir string, keepFor time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), transfer.PendingSuffix) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat staging file", "file", filePath, "err", err)

			return err
		}

		if now.Sub(info.ModTime()) > keepFor {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete stale staging file", "file", filePath, "err", err)

				return err
			}

			logger.Info("deleted stale staging file", "file", filePath, "age", now.Sub(info.ModTime()).Round(time.Second).String())
		}
	}

	return nil
}
