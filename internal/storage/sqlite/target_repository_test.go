package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_downloader/internal/storage"
	"vault_downloader/internal/storage/sqlite"
)

func newTestRepo(t *testing.T) *sqlite.TargetRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewTargetRepository(db)
}

func TestTrack_EmptyMetadataDoesNotOverwrite(t *testing.T) {
	repo := newTestRepo(t)

	full := storage.TargetRecord{
		PageURL:     "https://vimm.net/vault/123",
		MediaID:     "123",
		FileName:    "Game (USA).iso",
		ExpectedCRC: "1a2b3c4d",
	}
	require.NoError(t, repo.Track(full))

	// A pass where the page failed to parse tracks the URL with no metadata.
	require.NoError(t, repo.Track(storage.TargetRecord{PageURL: full.PageURL}))

	targets, err := repo.GetTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)

	assert.Equal(t, "123", targets[0].MediaID)
	assert.Equal(t, "Game (USA).iso", targets[0].FileName)
	assert.Equal(t, "1a2b3c4d", targets[0].ExpectedCRC)
	assert.Equal(t, 2, targets[0].Attempts)
}

func TestTrack_RefreshedMetadataWins(t *testing.T) {
	repo := newTestRepo(t)

	rec := storage.TargetRecord{
		PageURL:     "https://vimm.net/vault/123",
		MediaID:     "123",
		FileName:    "Game (USA).iso",
		ExpectedCRC: "1a2b3c4d",
	}
	require.NoError(t, repo.Track(rec))

	rec.ExpectedCRC = "cafef00d"
	require.NoError(t, repo.Track(rec))

	targets, err := repo.GetTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "cafef00d", targets[0].ExpectedCRC)
}

func TestStatusLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	rec := storage.TargetRecord{PageURL: "https://vimm.net/vault/456", MediaID: "456", FileName: "Other Game.iso"}
	require.NoError(t, repo.Track(rec))

	require.NoError(t, repo.UpdateStatus(rec.PageURL, storage.StatusDownloading, ""))

	targets, err := repo.GetTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, storage.StatusDownloading, targets[0].Status)

	require.NoError(t, repo.UpdateStatus(rec.PageURL, storage.StatusFailed, "boom"))
	require.NoError(t, repo.MarkVerified(rec.PageURL))

	targets, err = repo.GetTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, storage.StatusVerified, targets[0].Status)
	assert.Empty(t, targets[0].LastError)
	assert.NotEmpty(t, targets[0].VerifiedAt)
}
