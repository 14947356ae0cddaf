// Package linklist treats the operator-maintained link file as a
// configuration source that is re-read on every pass, so newly added targets
// are picked up without a restart.
package linklist

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"vault_downloader/internal/logctx"
)

// Source reads page URLs from a newline-separated text file. Blank lines and
// lines starting with '#' are ignored; lines whose host does not match the
// configured domain are skipped with a logged notice.
type Source struct {
	path   string
	domain string
}

func NewSource(path, domain string) *Source {
	return &Source{path: path, domain: domain}
}

// Load re-reads the link file. A missing file is not an error: it simply
// yields no targets, matching a list the operator has not created yet.
func (s *Source) Load(ctx context.Context) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to open link list: %w", err)
	}
	defer f.Close()

	var urls []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !s.matchesDomain(line) {
			logger.WarnContext(ctx, "skipping link outside vault domain", "link", line, "domain", s.domain)

			continue
		}

		urls = append(urls, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read link list: %w", err)
	}

	return urls, nil
}

func (s *Source) matchesDomain(link string) bool {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	host := u.Hostname()

	return host == s.domain || strings.HasSuffix(host, "."+s.domain)
}
