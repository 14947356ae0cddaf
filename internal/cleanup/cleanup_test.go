package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_downloader/internal/cleanup"
)

func TestRemoveStalePending(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "Old Game.7z.pending")
	fresh := filepath.Join(dir, "New Game.7z.pending")
	archive := filepath.Join(dir, "Done Game.7z")

	for _, p := range []string{stale, fresh, archive} {
		require.NoError(t, os.WriteFile(p, []byte("bytes"), 0644))
	}

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, cleanup.RemoveStalePending(context.Background(), dir, 24*time.Hour))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale staging file should be removed")

	_, err = os.Stat(fresh)
	assert.NoError(t, err, "recent staging file should survive")

	_, err = os.Stat(archive)
	assert.NoError(t, err, "published archives are never touched")
}

func TestRemoveStalePending_MissingDir(t *testing.T) {
	err := cleanup.RemoveStalePending(context.Background(), filepath.Join(t.TempDir(), "absent"), time.Hour)
	assert.NoError(t, err)
}
