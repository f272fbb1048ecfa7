package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAddOrReplaceEntry(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(NewReader(nil))

	t.Run("adds a new entry", func(t *testing.T) {
		path := writeComicZip(t, dir, "add.cbz")
		sidecar := writeRawFile(t, dir, "ComicInfo.xml", []byte("<ComicInfo><Series>Saga</Series></ComicInfo>"))

		err := writer.AddOrReplaceEntry(path, sidecar, "ComicInfo.xml")
		require.NoError(t, err)

		data, err := NewReader(nil).ExtractToBuffer(path, "ComicInfo.xml")
		require.NoError(t, err)
		assert.Contains(t, string(data), "Saga")

		// The original pages survive the rewrite.
		info, err := NewReader(nil).List(path)
		require.NoError(t, err)
		assert.Equal(t, 4, info.FileCount)
		assert.True(t, info.HasComicInfo)
	})

	t.Run("replaces an existing entry by basename", func(t *testing.T) {
		path := filepath.Join(dir, "replace.cbz")
		writeZip(t, path, []zipEntry{
			{name: "001.jpg", data: []byte("page")},
			{name: "nested/comicinfo.XML", data: []byte("old sidecar")},
		})
		sidecar := writeRawFile(t, dir, "ComicInfo2.xml", []byte("new sidecar"))

		err := writer.AddOrReplaceEntry(path, sidecar, "ComicInfo.xml")
		require.NoError(t, err)

		info, err := NewReader(nil).List(path)
		require.NoError(t, err)
		assert.Equal(t, 2, info.FileCount, "old sidecar replaced, not duplicated")

		data, err := NewReader(nil).ExtractToBuffer(path, "ComicInfo.xml")
		require.NoError(t, err)
		assert.Equal(t, []byte("new sidecar"), data)
	})

	t.Run("refuses non-zip archives", func(t *testing.T) {
		path := writeRawFile(t, dir, "real.cbr", []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00, 0x00})
		sidecar := writeRawFile(t, dir, "ComicInfo3.xml", []byte("sidecar"))

		err := writer.AddOrReplaceEntry(path, sidecar, "ComicInfo.xml")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotZIP))
	})

	t.Run("preserves file permissions", func(t *testing.T) {
		path := writeComicZip(t, dir, "perms.cbz")
		require.NoError(t, os.Chmod(path, 0o640))
		sidecar := writeRawFile(t, dir, "ComicInfo4.xml", []byte("sidecar"))

		err := writer.AddOrReplaceEntry(path, sidecar, "ComicInfo.xml")
		require.NoError(t, err)

		stat, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), stat.Mode().Perm(),
			"rewrite should not tighten the archive's mode")
	})
}

func TestWriterDeletePages(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(NewReader(nil))

	t.Run("deletes by relative path and basename", func(t *testing.T) {
		path := writeComicZip(t, dir, "delete.cbz")
		require.NoError(t, os.Chmod(path, 0o640))

		deleted, err := writer.DeletePages(path, []string{"pages/001.jpg", "003.png"})
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		info, err := NewReader(nil).List(path)
		require.NoError(t, err)
		assert.Equal(t, 1, info.FileCount)
		assert.Equal(t, "pages/002.jpg", normalizeEntryPath(info.Entries[0].Path))

		stat, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), stat.Mode().Perm())

		_, err = os.Stat(path + ".bak")
		assert.True(t, os.IsNotExist(err), "backup should be removed on success")
	})

	t.Run("missing entries are not counted", func(t *testing.T) {
		path := writeComicZip(t, dir, "partial.cbz")

		deleted, err := writer.DeletePages(path, []string{"pages/001.jpg", "does-not-exist.jpg"})
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
	})

	t.Run("empty request is a no-op", func(t *testing.T) {
		path := writeComicZip(t, dir, "noop.cbz")

		deleted, err := writer.DeletePages(path, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)

		info, err := NewReader(nil).List(path)
		require.NoError(t, err)
		assert.Equal(t, 3, info.FileCount)
	})

	t.Run("refuses non-zip archives", func(t *testing.T) {
		path := writeRawFile(t, dir, "real7z.cb7", []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C, 0x00, 0x00})

		_, err := writer.DeletePages(path, []string{"001.jpg"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotZIP))
	})

	t.Run("rebuild failure restores the original", func(t *testing.T) {
		path := writeComicZip(t, dir, "restore.cbz")

		w := NewWriter(NewReader(nil))
		w.rebuild = func(sourceDir, destPath string) (int, int64, error) {
			return 0, 0, errors.New("disk full")
		}

		_, err := w.DeletePages(path, []string{"pages/001.jpg"})
		require.Error(t, err)

		// The original archive is back at its path, intact.
		info, err := NewReader(nil).List(path)
		require.NoError(t, err)
		assert.Equal(t, 3, info.FileCount)

		_, err = os.Stat(path + ".bak")
		assert.True(t, os.IsNotExist(err), "backup should be consumed by the restore")
	})
}

func TestWriterCreateArchive(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(NewReader(nil))

	source := filepath.Join(dir, "source")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "pages", "002.jpg"), []byte("two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "pages", "001.jpg"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "ComicInfo.xml"), []byte("<ComicInfo/>"), 0o644))

	dest := filepath.Join(dir, "built.cbz")
	count, size, err := writer.CreateArchive(source, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	stat, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), size)

	// Entries are stored uncompressed in deterministic path order.
	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.Equal(t, zip.Store, f.Method)
	}
	assert.Equal(t, []string{"ComicInfo.xml", "pages/001.jpg", "pages/002.jpg"}, names)
}
