package transfer

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"vault_downloader/internal/logctx"
	"vault_downloader/internal/telemetry"
	"vault_downloader/internal/transfer/progress"
	"vault_downloader/internal/vault"
)

const (
	// PendingSuffix marks an in-progress, not-yet-trusted download. A file
	// carrying it must never be treated as a complete archive.
	PendingSuffix = ".pending"

	dirPerm          = 0755
	progressInterval = int64(50 * 1024 * 1024) // 50MB between progress lines
)

// Manager streams the download endpoint into a staging file and atomically
// publishes it as the archive artifact. It owns the staging file exclusively
// for the duration of one attempt.
type Manager struct {
	client      *http.Client
	downloadDir string
	referer     string
	userAgent   string
	tel         *telemetry.Telemetry
}

func NewManager(client *http.Client, downloadDir, referer, userAgent string, tel *telemetry.Telemetry) *Manager {
	return &Manager{
		client:      client,
		downloadDir: downloadDir,
		referer:     referer,
		userAgent:   userAgent,
		tel:         tel,
	}
}

// Fetch downloads one archive. It GETs the endpoint with the media id as a
// query parameter and a referer header, stages the body under PendingSuffix,
// and renames to the final archive path only after the full stream was
// consumed. The published path is returned: a content-disposition filename,
// when present, overrides the page-derived archive name.
//
// HTTP failures, connection errors, and mid-stream read errors return a
// *RetryableError with the staging file already removed. Create and rename
// failures return a *PublishError instead, since they point at the
// filesystem rather than the network.
func (m *Manager) Fetch(ctx context.Context, target *vault.DownloadTarget) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("media_id", target.MediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.EndpointURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	q := req.URL.Query()
	q.Set("mediaId", target.MediaID)
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Referer", m.referer)
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		m.tel.RecordRetry()

		return "", &RetryableError{Operation: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.tel.RecordRetry()

		return "", &RetryableError{Operation: "request", StatusCode: resp.StatusCode}
	}

	archiveName := target.ArchiveName
	if name := dispositionFilename(resp.Header.Get("Content-Disposition")); name != "" {
		archiveName = vault.SanitizeFilename(name, target.MediaID)
		logger.DebugContext(ctx, "using content-disposition filename", "archive", archiveName)
	}

	finalPath := filepath.Join(m.downloadDir, archiveName)
	stagingPath := finalPath + PendingSuffix

	if err := os.MkdirAll(m.downloadDir, dirPerm); err != nil {
		return "", &PublishError{Path: m.downloadDir, Err: err}
	}

	out, err := os.Create(stagingPath)
	if err != nil {
		return "", &PublishError{Path: stagingPath, Err: err}
	}

	start := time.Now()

	written, err := m.writeBody(ctx, out, resp.Body, archiveName, resp.ContentLength)
	if err != nil {
		out.Close()
		os.Remove(stagingPath)
		m.tel.RecordRetry()

		return "", &RetryableError{Operation: "stream", Err: err}
	}

	// Flush to stable storage before the rename makes the file visible as a
	// complete archive.
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(stagingPath)

		return "", &PublishError{Path: stagingPath, Err: err}
	}

	if err := out.Close(); err != nil {
		os.Remove(stagingPath)

		return "", &PublishError{Path: stagingPath, Err: err}
	}

	// The rename is the publish point: only after it does the byte content
	// count as an archive artifact.
	if err := os.Rename(stagingPath, finalPath); err != nil {
		return "", &PublishError{Path: finalPath, Err: err}
	}

	m.tel.RecordDownload(written, time.Since(start))

	logger.InfoContext(ctx, "download published",
		"archive", finalPath,
		"size", humanize.Bytes(uint64(written)),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)

	return finalPath, nil
}

func (m *Manager) writeBody(ctx context.Context, out io.Writer, body io.Reader, name string, total int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if total > 0 {
		logger.InfoContext(ctx, "downloading archive", "archive", name, "size", humanize.Bytes(uint64(total)))
	} else {
		logger.InfoContext(ctx, "downloading archive", "archive", name, "size", "unknown")
	}

	progressCb := func(written int64, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"archive", name,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "archive", name, "downloaded", humanize.Bytes(uint64(written)))
		}
	}
	pr := progress.NewReader(body, total, progressInterval, progressCb)

	if _, err := io.Copy(out, pr); err != nil {
		return pr.Total(), fmt.Errorf("failed to copy body: %w", err)
	}

	if written := pr.Total(); total >= 0 && written < total {
		return written, fmt.Errorf("truncated body: got %d of %d bytes", written, total)
	}

	return pr.Total(), nil
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}
