// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
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
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesDocument", func(t *testing.T) {
		path := "documents/fgv/abc.pdf"
		data := []byte("%PDF-1.7")
		uri, err := store.PutObject(ctx, path, "application/pdf", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrites", func(t *testing.T) {
		path := "documents/fgv/abc.pdf"
		_, err := store.PutObject(ctx, path, "application/pdf", bytes.NewReader([]byte("v2")))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got))
	})

	t.Run("FailedCopyLeavesNothing", func(t *testing.T) {
		_, err := store.PutObject(ctx, "documents/broken/x.pdf", "application/pdf", failingReader{})
		require.Error(t, err)
		entries, err := os.ReadDir(filepath.Join(tempDir, "documents", "broken"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.pdf", "application/pdf", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
	})
}
