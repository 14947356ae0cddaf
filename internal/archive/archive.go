// Package archive reads the two container formats the vault serves (7z and
// zip) without caring which is which: callers dispatch by file extension and
// get recorded checksums, extraction, and full-file hashing behind one API.
package archive

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// ErrNoChecksum means the container is readable but no entry carries a data
// stream with a nonzero recorded checksum.
var ErrNoChecksum = errors.New("archive: no checksummed data entry")

// CorruptArchiveError marks a container that cannot be read. The caller
// should discard the bytes and fetch fresh ones; retrying the same file
// cannot succeed.
type CorruptArchiveError struct {
	Path string
	Err  error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// UnsupportedFormatError marks an extension we have no reader for. Unlike a
// corrupt archive, re-downloading cannot fix this, so it is fatal per target.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported archive format %q for %s", e.Ext, e.Path)
}

// format is the capability each container variant provides. New formats are
// added as new variants, not by branching in the callers.
type format interface {
	inspectChecksum(path string) (uint32, error)
	extract(path, destDir string) error
}

func formatFor(path string) (format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".7z":
		return sevenZipFormat{}, nil
	case ".zip":
		return zipFormat{}, nil
	default:
		return nil, &UnsupportedFormatError{Path: path, Ext: ext}
	}
}

// InspectChecksum opens an archive without extracting it and returns the
// recorded CRC32 of its first data-bearing, non-directory entry as lowercase
// hex. No qualifying entry yields ErrNoChecksum.
func InspectChecksum(path string) (string, error) {
	f, err := formatFor(path)
	if err != nil {
		return "", err
	}

	crc, err := f.inspectChecksum(path)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%08x", crc), nil
}

// Extract unpacks every entry of the archive into destDir.
func Extract(path, destDir string) error {
	f, err := formatFor(path)
	if err != nil {
		return err
	}

	return f.extract(path, destDir)
}

// PayloadCRC32 computes the full-file CRC32 (IEEE) of an extracted payload as
// lowercase hex. This is the authority compared against the page checksum.
func PayloadCRC32(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open payload: %w", err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash payload: %w", err)
	}

	return fmt.Sprintf("%08x", h.Sum32()), nil
}

// corruptReader tags read-side failures as archive corruption. The container
// headers can be intact while the entry data is damaged (a corrupt deflate
// stream, a checksum failure at end of entry); those must surface as
// *CorruptArchiveError so the caller discards the archive and fetches fresh
// bytes, while local filesystem write errors stay fatal.
type corruptReader struct {
	io.ReadCloser
	path string
}

func (r corruptReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, &CorruptArchiveError{Path: r.path, Err: err}
	}

	return n, err
}

// writeEntry streams one archive entry to disk under destDir, refusing names
// that escape it.
func writeEntry(destDir, name string, isDir bool, open func() (io.ReadCloser, error)) error {
	dest := filepath.Join(destDir, filepath.FromSlash(name))

	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes destination", name)
	}

	if isDir {
		return os.MkdirAll(dest, dirPerm)
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return fmt.Errorf("failed to create entry directory: %w", err)
	}

	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create entry file: %w", err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()

		return fmt.Errorf("failed to write entry %q: %w", name, err)
	}

	return out.Close()
}
