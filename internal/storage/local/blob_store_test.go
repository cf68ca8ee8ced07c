// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/storage/local"
	"github.com/JakeFAU/shotcast/internal/store"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, blobs)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "shots")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: path})
		assert.Error(t, err)
	})
}

func TestUploadDownload(t *testing.T) {
	tempDir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: tempDir, PublicBaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		data := []byte{0x89, 'P', 'N', 'G'}
		require.NoError(t, blobs.Upload(ctx, "screens/abc.png", "image/png", data))

		// #nosec G304 -- test reads from the controlled temp directory.
		onDisk, err := os.ReadFile(filepath.Join(tempDir, "screens", "abc.png"))
		require.NoError(t, err)
		assert.Equal(t, data, onDisk)

		got, err := blobs.Download(ctx, "screens/abc.png")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, blobs.Upload(ctx, "o.png", "image/png", []byte("one")))
		require.NoError(t, blobs.Upload(ctx, "o.png", "image/png", []byte("two")))
		got, err := blobs.Download(ctx, "o.png")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := blobs.Download(ctx, "nope.png")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		assert.Error(t, blobs.Upload(ctx, "", "image/png", []byte("data")))
	})

	t.Run("Traversal", func(t *testing.T) {
		assert.Error(t, blobs.Upload(ctx, "../escape.png", "image/png", []byte("data")))
		_, err := blobs.Download(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("PublicURL", func(t *testing.T) {
		assert.Equal(t, "http://localhost:8080/v1/screenshots/screens/abc.png", blobs.PublicURL("screens/abc.png"))
	})
}
