package archive_test

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_downloader/internal/archive"
)

func crcHex(content []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(content))
}

// writeZip builds a zip at path; entries are written in order, names ending
// in "/" become directories.
func writeZip(t *testing.T, path string, entries map[string][]byte, order []string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)

	for _, name := range order {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		require.NoError(t, err)

		if content := entries[name]; len(content) > 0 {
			_, err = w.Write(content)
			require.NoError(t, err)
		}
	}

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestInspectChecksum_Zip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.zip")
	content := []byte("payload bytes of the game image")

	// A directory entry precedes the data entry; the inspector must skip it.
	writeZip(t, path, map[string][]byte{
		"inner/":         nil,
		"inner/game.iso": content,
	}, []string{"inner/", "inner/game.iso"})

	crc, err := archive.InspectChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, crcHex(content), crc)
}

func TestInspectChecksum_NoDataEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.zip")

	writeZip(t, path, map[string][]byte{"only-dir/": nil}, []string{"only-dir/"})

	_, err := archive.InspectChecksum(path)
	assert.ErrorIs(t, err, archive.ErrNoChecksum)
}

func TestInspectChecksum_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"garbage zip", "broken.zip"},
		{"garbage 7z", "broken.7z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte("this is not an archive"), 0644))

			_, err := archive.InspectChecksum(path)
			require.Error(t, err)

			var corrupt *archive.CorruptArchiveError
			assert.True(t, errors.As(err, &corrupt))
			assert.Equal(t, path, corrupt.Path)
		})
	}
}

func TestInspectChecksum_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.rar")
	require.NoError(t, os.WriteFile(path, []byte("rar!"), 0644))

	_, err := archive.InspectChecksum(path)
	require.Error(t, err)

	var unsupported *archive.UnsupportedFormatError
	assert.True(t, errors.As(err, &unsupported))
	assert.Equal(t, ".rar", unsupported.Ext)
}

func TestExtract_Zip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.zip")
	content := []byte("iso image contents")

	writeZip(t, path, map[string][]byte{
		"Game (USA).iso": content,
		"docs/notes.txt": []byte("notes"),
	}, []string{"Game (USA).iso", "docs/notes.txt"})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))

	require.NoError(t, archive.Extract(path, dest))

	got, err := os.ReadFile(filepath.Join(dest, "Game (USA).iso"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	notes, err := os.ReadFile(filepath.Join(dest, "docs", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("notes"), notes)
}

func TestExtract_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.zip")

	writeZip(t, path, map[string][]byte{
		"../escape.txt": []byte("outside"),
	}, []string{"../escape.txt"})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))

	err := archive.Extract(path, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")

	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

// corruptEntryData flips bytes inside the first entry's compressed data, so
// the container headers and the recorded checksum survive while the stream no
// longer decodes.
func corruptEntryData(t *testing.T, path string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Local file header: name length at offset 26, extra length at 28, then
	// name, extra, and the compressed data.
	nameLen := int(binary.LittleEndian.Uint16(data[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(data[28:30]))
	start := 30 + nameLen + extraLen

	for i := start + 2; i < start+8; i++ {
		data[i] ^= 0xFF
	}

	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestExtract_CorruptEntryData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.zip")
	content := []byte(strings.Repeat("payload bytes of the game image ", 16))

	writeZip(t, path, map[string][]byte{"game.iso": content}, []string{"game.iso"})
	corruptEntryData(t, path)

	// The central directory is intact, so inspection still sees the recorded
	// checksum of the undamaged content.
	crc, err := archive.InspectChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, crcHex(content), crc)

	err = archive.Extract(path, filepath.Join(dir, "out"))
	require.Error(t, err)

	var corrupt *archive.CorruptArchiveError
	assert.True(t, errors.As(err, &corrupt), "damaged entry data must read as a corrupt archive, got: %v", err)
}

func TestExtract_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("truncated nonsense"), 0644))

	err := archive.Extract(path, t.TempDir())

	var corrupt *archive.CorruptArchiveError
	assert.True(t, errors.As(err, &corrupt))
}

func TestPayloadCRC32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.iso")
	content := []byte("some payload data")
	require.NoError(t, os.WriteFile(path, content, 0644))

	crc, err := archive.PayloadCRC32(path)
	require.NoError(t, err)
	assert.Equal(t, crcHex(content), crc)
}

func TestPayloadCRC32_Missing(t *testing.T) {
	_, err := archive.PayloadCRC32(filepath.Join(t.TempDir(), "absent.iso"))
	assert.Error(t, err)
}
