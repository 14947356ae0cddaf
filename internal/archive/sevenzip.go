package archive

import (
	"io"

	"github.com/bodgit/sevenzip"
)

type sevenZipFormat struct{}

func (sevenZipFormat) inspectChecksum(path string) (uint32, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return 0, &CorruptArchiveError{Path: path, Err: err}
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || f.CRC32 == 0 {
			continue
		}

		return f.CRC32, nil
	}

	return 0, ErrNoChecksum
}

func (sevenZipFormat) extract(path, destDir string) error {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return &CorruptArchiveError{Path: path, Err: err}
	}
	defer r.Close()

	// Entries are written in archive order: solid 7z streams decompress
	// sequentially, so out-of-order access would re-read the whole stream.
	for _, f := range r.File {
		open := func() (io.ReadCloser, error) {
			rc, err := f.Open()
			if err != nil {
				return nil, &CorruptArchiveError{Path: path, Err: err}
			}

			return corruptReader{ReadCloser: rc, path: path}, nil
		}

		if err := writeEntry(destDir, f.Name, f.FileInfo().IsDir(), open); err != nil {
			return err
		}
	}

	return nil
}
