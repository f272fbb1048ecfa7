package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// zipEntry is one member of a test fixture archive, in archive order.
type zipEntry struct {
	name string
	data []byte
}

// writeZip creates a ZIP archive at path with the given entries.
func writeZip(t *testing.T, path string, entries []zipEntry) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

// writeComicZip creates a minimal comic archive with a few page images.
func writeComicZip(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	writeZip(t, path, []zipEntry{
		{name: "pages/001.jpg", data: []byte("first page")},
		{name: "pages/002.jpg", data: []byte("second page")},
		{name: "pages/003.png", data: []byte("third page")},
	})
	return path
}

// writeRawFile writes arbitrary bytes, used for magic-signature fixtures.
func writeRawFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
