package vault

import (
	"context"
	"fmt"
	"net/http"

	"vault_downloader/internal/logctx"
)

// Client fetches catalog pages. The download endpoint itself is handled by
// the transfer manager; this client only deals with page markup.
type Client struct {
	hc        *http.Client
	userAgent string
}

func NewClient(hc *http.Client, userAgent string) *Client {
	return &Client{hc: hc, userAgent: userAgent}
}

// FetchTarget downloads and parses one catalog page. Network failures and
// non-success statuses surface as plain errors: the caller skips the target
// for this pass and the next pass retries naturally.
func (c *Client) FetchTarget(ctx context.Context, pageURL string) (*DownloadTarget, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build page request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("page fetch returned status %d", resp.StatusCode)
	}

	target, err := ParsePage(resp.Body, pageURL)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "parsed catalog page",
		"page_url", pageURL,
		"media_id", target.MediaID,
		"payload", target.PayloadName,
		"expected_crc", target.ExpectedCRC,
	)

	return target, nil
}
