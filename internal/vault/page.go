package vault

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DownloadTarget holds everything extracted from one catalog page. It is
// immutable for the duration of a processing attempt: the expected checksum
// and the filenames never change once parsed.
type DownloadTarget struct {
	PageURL     string
	EndpointURL string
	MediaID     string
	ExpectedCRC string // lowercase hex
	PayloadName string
	ArchiveName string
}

// ParseError reports a catalog page that is missing one of the elements we
// need. Pages like this cannot be fixed by retrying within a pass.
type ParseError struct {
	PageURL string
	Field   string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("page %s: invalid %s: %v", e.PageURL, e.Field, e.Err)
	}

	return fmt.Sprintf("page %s: missing %s", e.PageURL, e.Field)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParsePage extracts a DownloadTarget from catalog page markup. Any missing
// form, media id, checksum element or filename element yields a *ParseError.
func ParsePage(r io.Reader, pageURL string) (*DownloadTarget, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{PageURL: pageURL, Field: "markup", Err: err}
	}

	endpoint, mediaID, err := downloadEndpoint(doc, pageURL)
	if err != nil {
		return nil, err
	}

	crc := strings.ToLower(strings.TrimSpace(doc.Find("span#data-crc").First().Text()))
	if crc == "" {
		return nil, &ParseError{PageURL: pageURL, Field: "checksum element"}
	}

	rawName, err := payloadFilename(doc, pageURL)
	if err != nil {
		return nil, err
	}

	payloadName := SanitizeFilename(rawName, mediaID)

	return &DownloadTarget{
		PageURL:     pageURL,
		EndpointURL: endpoint,
		MediaID:     mediaID,
		ExpectedCRC: crc,
		PayloadName: payloadName,
		ArchiveName: ArchiveNameFor(payloadName),
	}, nil
}

// ArchiveNameFor derives the archive filename served by the download endpoint
// from the payload filename: the extension is swapped for .7z.
func ArchiveNameFor(payloadName string) string {
	if idx := strings.LastIndex(payloadName, "."); idx > 0 {
		return payloadName[:idx] + ".7z"
	}

	return payloadName + ".7z"
}

// downloadEndpoint finds the download form and its media id field. The site
// serves the form with a protocol-relative action, which gets https prefixed.
func downloadEndpoint(doc *goquery.Document, pageURL string) (string, string, error) {
	var endpoint, mediaID string

	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		action, ok := form.Attr("action")
		if !ok || !strings.Contains(action, "dl") {
			return true
		}

		id, ok := form.Find("input[name='mediaId']").First().Attr("value")
		if !ok || id == "" {
			return true
		}

		if strings.HasPrefix(action, "//") {
			action = "https:" + action
		}

		endpoint = action
		mediaID = id

		return false
	})

	if endpoint == "" {
		return "", "", &ParseError{PageURL: pageURL, Field: "download form"}
	}

	return endpoint, mediaID, nil
}

// payloadFilename reads the base64-obfuscated filename the site stores on its
// preview canvas element.
func payloadFilename(doc *goquery.Document, pageURL string) (string, error) {
	encoded, ok := doc.Find("canvas#canvas2").First().Attr("data-v")
	if !ok {
		return "", &ParseError{PageURL: pageURL, Field: "filename element"}
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &ParseError{PageURL: pageURL, Field: "filename encoding", Err: err}
	}

	if !utf8.Valid(decoded) {
		return "", &ParseError{PageURL: pageURL, Field: "filename encoding", Err: fmt.Errorf("not valid UTF-8")}
	}

	return string(decoded), nil
}
