package archive

import (
	"archive/zip"
	"io"
)

type zipFormat struct{}

func (zipFormat) inspectChecksum(path string) (uint32, error) {
	r, err := zip.OpenReader(path)
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

func (zipFormat) extract(path, destDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return &CorruptArchiveError{Path: path, Err: err}
	}
	defer r.Close()

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
