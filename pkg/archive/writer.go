package archive

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotZIP is returned for any mutation attempt on a non-ZIP container.
// RAR and 7z archives are read-only.
var ErrNotZIP = errors.New("archive mutation is only supported for ZIP containers; convert to CBZ first")

// Writer mutates ZIP-format archives. It carries no internal lock: callers
// must not mutate the same archive concurrently from two code paths.
type Writer struct {
	reader *Reader
	// rebuild is CreateArchive behind a seam so the restore path in
	// DeletePages can be exercised.
	rebuild func(sourceDir, destPath string) (int, int64, error)
}

func NewWriter(reader *Reader) *Writer {
	w := &Writer{reader: reader}
	w.rebuild = w.CreateArchive
	return w
}

func (w *Writer) requireZIP(path string) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	if format != FormatZIP {
		return errors.Wrapf(ErrNotZIP, "detected format %s for %s", format, path)
	}
	return nil
}

// AddOrReplaceEntry rewrites the archive with sourceFile stored under
// entryName, replacing any existing entry with the same basename
// (case-insensitive). The write is verified by re-listing the archive and
// confirming the target entry is present before declaring success.
func (w *Writer) AddOrReplaceEntry(path, sourceFile, entryName string) error {
	if err := w.requireZIP(path); err != nil {
		return err
	}
	if entryName == "" {
		entryName = filepath.Base(sourceFile)
	}

	origInfo, err := os.Stat(path)
	if err != nil {
		return errors.WithStack(err)
	}

	src, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open zip %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rewrite-*.zip")
	if err != nil {
		src.Close()
		return errors.WithStack(err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	zw := zip.NewWriter(tmp)
	wantBase := strings.ToLower(filepath.Base(normalizeEntryPath(entryName)))
	for _, f := range src.File {
		if strings.EqualFold(filepath.Base(normalizeEntryPath(f.Name)), wantBase) {
			continue
		}
		if err := zw.Copy(f); err != nil {
			src.Close()
			cleanup()
			return errors.WithStack(err)
		}
	}
	src.Close()

	if err := writeStoredEntry(zw, entryName, sourceFile); err != nil {
		cleanup()
		return err
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return errors.WithStack(err)
	}
	// CreateTemp files are 0600; carry the original's mode through the swap.
	if err := tmp.Chmod(origInfo.Mode()); err != nil {
		cleanup()
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.WithStack(err)
	}

	// Post-write verification: confirm the entry landed.
	info, err := w.reader.List(path)
	if err != nil {
		return errors.Wrap(err, "archive unreadable after write")
	}
	for _, e := range info.Entries {
		if strings.EqualFold(filepath.Base(normalizeEntryPath(e.Path)), wantBase) {
			return nil
		}
	}
	return errors.Errorf("entry %s missing from %s after write", entryName, path)
}

// DeletePages removes the given entries via a read-modify-write protocol:
// extract everything to a temp dir, delete the requested entries there,
// rename the original aside to .bak, rebuild a fresh archive from the temp
// dir at the original path, then drop the .bak on success or restore it on
// failure. The original archive is never left unreadable: it exists either
// at its original path or recovered from the .bak sibling.
func (w *Writer) DeletePages(path string, entryPaths []string) (int, error) {
	if err := w.requireZIP(path); err != nil {
		return 0, err
	}
	if len(entryPaths) == 0 {
		return 0, nil
	}

	tempDir, err := os.MkdirTemp("", "tanko-delete-pages-*")
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer os.RemoveAll(tempDir)

	if _, err := w.reader.Extract(path, tempDir, nil); err != nil {
		return 0, err
	}

	deleted := 0
	for _, entryPath := range entryPaths {
		normalized := filepath.FromSlash(normalizeEntryPath(entryPath))
		full := filepath.Join(tempDir, normalized)
		if err := os.Remove(full); err == nil {
			deleted++
			continue
		}
		// The extraction backend may have flattened subdirectories; fall
		// back to a basename match anywhere under the temp dir.
		if removed := removeByBasename(tempDir, filepath.Base(normalized)); removed {
			deleted++
		}
	}

	origInfo, err := os.Stat(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	bakPath := path + ".bak"
	if err := os.Rename(path, bakPath); err != nil {
		return 0, errors.WithStack(err)
	}

	if _, _, err := w.rebuild(tempDir, path); err != nil {
		// Rebuild failed: put the original back.
		os.Remove(path)
		if restoreErr := os.Rename(bakPath, path); restoreErr != nil {
			return 0, errors.Wrapf(err, "rebuild failed and restore from %s also failed: %v", bakPath, restoreErr)
		}
		return 0, errors.Wrap(err, "failed to rebuild archive; original restored")
	}

	// The rebuilt archive was created fresh; carry the original's mode over.
	if err := os.Chmod(path, origInfo.Mode()); err != nil {
		return 0, errors.WithStack(err)
	}

	os.Remove(bakPath)
	return deleted, nil
}

// CreateArchive streams sourceDir's contents into a fresh ZIP at destPath.
// Entries are stored uncompressed since page images are already compressed.
// Returns the entry count and the final byte size of the written archive.
func (w *Writer) CreateArchive(sourceDir, destPath string) (int, int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}

	zw := zip.NewWriter(out)
	count := 0

	// Deterministic entry order regardless of filesystem iteration.
	var paths []string
	err = filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.WithStack(err)
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		zw.Close()
		out.Close()
		os.Remove(destPath)
		return 0, 0, err
	}
	sort.Strings(paths)

	for _, p := range paths {
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			zw.Close()
			out.Close()
			os.Remove(destPath)
			return 0, 0, errors.WithStack(err)
		}
		if err := writeStoredEntry(zw, filepath.ToSlash(rel), p); err != nil {
			zw.Close()
			out.Close()
			os.Remove(destPath)
			return 0, 0, err
		}
		count++
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(destPath)
		return 0, 0, errors.WithStack(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return 0, 0, errors.WithStack(err)
	}

	stat, err := os.Stat(destPath)
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}
	return count, stat.Size(), nil
}

func writeStoredEntry(zw *zip.Writer, entryName, sourceFile string) error {
	src, err := os.Open(sourceFile)
	if err != nil {
		return errors.WithStack(err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	header := &zip.FileHeader{
		Name:     normalizeEntryPath(entryName),
		Method:   zip.Store,
		Modified: stat.ModTime(),
	}
	entry, err := zw.CreateHeader(header)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(entry, src); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func removeByBasename(root, base string) bool {
	removed := false
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || removed {
			return nil
		}
		if d.Name() == base {
			if os.Remove(p) == nil {
				removed = true
				return fs.SkipAll
			}
		}
		return nil
	})
	return removed
}
