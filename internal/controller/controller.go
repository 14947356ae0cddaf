// Package controller drives one target through the download–verify–extract
// state machine until a verified payload exists on disk. The only durable
// on-disk states are "nothing", "complete archive, unverified", and
// "complete payload, unverified/verified", so a restart resumes correctly
// from any of them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"vault_downloader/internal/archive"
	"vault_downloader/internal/logctx"
	"vault_downloader/internal/telemetry"
	"vault_downloader/internal/transfer"
	"vault_downloader/internal/vault"
)

// Fetcher downloads one archive and returns the published archive path.
type Fetcher interface {
	Fetch(ctx context.Context, target *vault.DownloadTarget) (string, error)
}

// ChecksumMismatchError is returned in diagnostic mode instead of deleting
// the mismatched payload, so the evidence stays on disk.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Controller orchestrates verification, extraction, and download for one
// target at a time. Archive inspection, extraction, and download all touch
// the same paths, so nothing here runs concurrently.
type Controller struct {
	downloadDir  string
	fetcher      Fetcher
	diagnostic   bool
	retryWait    time.Duration
	maxRetryWait time.Duration
	tel          *telemetry.Telemetry

	sleep func(ctx context.Context, d time.Duration) error
}

func New(downloadDir string, fetcher Fetcher, diagnostic bool, retryWait, maxRetryWait time.Duration, tel *telemetry.Telemetry) *Controller {
	return &Controller{
		downloadDir:  downloadDir,
		fetcher:      fetcher,
		diagnostic:   diagnostic,
		retryWait:    retryWait,
		maxRetryWait: maxRetryWait,
		tel:          tel,
		sleep:        sleepContext,
	}
}

// Process loops until the payload on disk matches the expected checksum or a
// non-retryable error occurs. It returns whether this run downloaded
// anything: false means the target was already satisfied.
//
// Retryable transfer failures are retried indefinitely with capped
// exponential backoff. There is deliberately no retry ceiling: the process
// runs unattended and the operator intervenes for persistent errors.
// Re-downloads forced by a discarded artifact draw on the same backoff, so a
// source that keeps serving wrong bytes with HTTP 200 cannot be hammered.
func (c *Controller) Process(ctx context.Context, target *vault.DownloadTarget) (bool, error) {
	logger := logctx.LoggerFromContext(ctx).With("page_url", target.PageURL, "payload", target.PayloadName)

	payloadPath := filepath.Join(c.downloadDir, target.PayloadName)
	archivePath := filepath.Join(c.downloadDir, target.ArchiveName)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryWait
	bo.MaxInterval = c.maxRetryWait

	var (
		downloaded bool
		forceFetch bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}

		// 1. A complete archive artifact exists: verify its recorded
		// checksum, unpack it, and consume it.
		if fileExists(archivePath) {
			ok, err := c.consumeArchive(ctx, target, archivePath)
			if err != nil {
				return downloaded, err
			}

			if !ok {
				forceFetch = true
			}
		}

		// 2. A payload artifact exists: its full-file checksum is the
		// authority. Skipped when the archive was just discarded, since the
		// payload on disk cannot be fresher than the archive that produced it.
		if !forceFetch && fileExists(payloadPath) {
			crc, err := archive.PayloadCRC32(payloadPath)
			if err != nil {
				return downloaded, err
			}

			if crc == target.ExpectedCRC {
				logger.InfoContext(ctx, "payload verified", "crc32", crc, "downloaded", downloaded)
				c.tel.RecordVerified(downloaded)

				return downloaded, nil
			}

			c.tel.RecordMismatch("payload")

			if c.diagnostic {
				return downloaded, &ChecksumMismatchError{Path: payloadPath, Expected: target.ExpectedCRC, Actual: crc}
			}

			reason := fmt.Sprintf("payload checksum %s, expected %s", crc, target.ExpectedCRC)
			if err := c.replaceCorruptArtifact(ctx, payloadPath, reason); err != nil {
				return downloaded, err
			}

			forceFetch = true
		}

		// A discarded artifact means the source served bad bytes: pace the
		// re-download like a transfer failure.
		if forceFetch {
			wait := bo.NextBackOff()
			logger.WarnContext(ctx, "waiting before re-downloading discarded target", "wait", wait.String())

			if err := c.sleep(ctx, wait); err != nil {
				return downloaded, err
			}
		}

		// 3. Download. A retryable failure restarts the whole iteration at
		// step 1, because a previous partial archive could already be there.
		logger.InfoContext(ctx, "downloading", "endpoint", target.EndpointURL, "media_id", target.MediaID)

		published, err := c.fetcher.Fetch(ctx, target)
		if err != nil {
			if transfer.IsRetryable(err) {
				wait := bo.NextBackOff()
				logger.WarnContext(ctx, "transfer failed, waiting to retry", "err", err, "wait", wait.String())

				if err := c.sleep(ctx, wait); err != nil {
					return downloaded, err
				}

				forceFetch = false

				continue
			}

			return downloaded, err
		}

		// Content-disposition may have renamed the published archive. The
		// backoff is not reset: persistent discard cycles keep slowing down
		// until the target verifies or the operator steps in.
		archivePath = published
		downloaded = true
		forceFetch = false
	}
}

// consumeArchive verifies the archive's recorded entry checksum, extracts it
// into the download directory, and deletes it. It returns false when the
// archive was discarded and a fresh download is required; errors are fatal
// for the target.
func (c *Controller) consumeArchive(ctx context.Context, target *vault.DownloadTarget, archivePath string) (bool, error) {
	logger := logctx.LoggerFromContext(ctx).With("archive", archivePath)

	recorded, err := archive.InspectChecksum(archivePath)

	var corrupt *archive.CorruptArchiveError

	switch {
	case err == nil:
		if recorded != target.ExpectedCRC {
			c.tel.RecordMismatch("archive")

			reason := fmt.Sprintf("recorded checksum %s, expected %s", recorded, target.ExpectedCRC)

			return false, c.replaceCorruptArtifact(ctx, archivePath, reason)
		}
	case errors.Is(err, archive.ErrNoChecksum):
		// The container carries no usable recorded checksum; extraction and
		// the payload hash decide.
		logger.DebugContext(ctx, "archive has no recorded checksum, deferring to payload hash")
	case errors.As(err, &corrupt):
		return false, c.replaceCorruptArtifact(ctx, archivePath, "unreadable archive: "+corrupt.Error())
	default:
		// Unsupported format or a filesystem fault: re-downloading cannot fix
		// either, surface it.
		return false, err
	}

	logger.InfoContext(ctx, "extracting archive")

	if err := archive.Extract(archivePath, c.downloadDir); err != nil {
		if errors.As(err, &corrupt) {
			return false, c.replaceCorruptArtifact(ctx, archivePath, "extraction failed: "+corrupt.Error())
		}

		return false, fmt.Errorf("extraction failed: %w", err)
	}

	// The archive is redundant once its contents are on disk.
	if err := os.Remove(archivePath); err != nil {
		return false, fmt.Errorf("failed to remove extracted archive: %w", err)
	}

	return true, nil
}

// replaceCorruptArtifact removes an artifact that failed verification so the
// next iteration fetches a fresh copy. This is the single delete-then-refetch
// primitive for archives, payloads, and mismatched payloads alike. A removal
// failure is a filesystem fault and fatal for the target.
func (c *Controller) replaceCorruptArtifact(ctx context.Context, path, reason string) error {
	logctx.LoggerFromContext(ctx).WarnContext(ctx, "discarding artifact for re-download", "path", path, "reason", reason)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
