package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/javi11/rardecode/v2"
	"github.com/pkg/errors"
	"github.com/tankobooks/tanko/pkg/errcodes"
)

const sidecarFilename = "comicinfo.xml"

// Reader lists and extracts comic archives, dispatching on the sniffed
// container format. RAR and 7z archives are read-only; mutation lives in
// Writer and is ZIP-only.
type Reader struct {
	cache *ListingCache
}

// NewReader creates a Reader backed by the given listing cache. A nil cache
// gets a fresh one, which keeps tests isolated from each other.
func NewReader(cache *ListingCache) *Reader {
	if cache == nil {
		cache = NewListingCache()
	}
	return &Reader{cache: cache}
}

// List returns the archive's listing, served from cache when the file's
// (mtime, size) fingerprint still matches.
func (r *Reader) List(path string) (*Info, error) {
	if info, ok := r.cache.Get(path); ok {
		return info, nil
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	switch format {
	case FormatRAR:
		entries, err = listRAR(path)
	case Format7Z:
		entries, err = list7z(path)
	case FormatZIP:
		entries, err = listZIP(path)
	default:
		return nil, errcodes.UnsupportedArchiveFormat(path)
	}
	if err != nil {
		return nil, err
	}

	info := buildInfo(format, entries)
	r.cache.Put(path, info)
	return info, nil
}

// Extract writes archive contents to outDir. A nil or empty entryFilter
// extracts everything; otherwise an entry is extracted when its normalized
// path or basename matches a filter element.
func (r *Reader) Extract(path, outDir string, entryFilter []string) (*ExtractionResult, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	result := &ExtractionResult{OutputDir: outDir}
	switch format {
	case FormatRAR:
		result.ExtractedFiles, err = extractRAR(path, outDir, entryFilter)
	case Format7Z:
		result.ExtractedFiles, err = extract7z(path, outDir, entryFilter)
	case FormatZIP:
		result.ExtractedFiles, err = extractZIP(path, outDir, entryFilter)
	default:
		return nil, errcodes.UnsupportedArchiveFormat(path)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractToBuffer returns the bytes of a single entry, matched by normalized
// path first and then by basename preferring the shallowest directory depth.
// Returns nil with no error when the entry is absent.
func (r *Reader) ExtractToBuffer(path, entryPath string) ([]byte, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatRAR:
		return bufferRAR(path, entryPath)
	case Format7Z:
		return buffer7z(path, entryPath)
	case FormatZIP:
		return bufferZIP(path, entryPath)
	}
	return nil, errcodes.UnsupportedArchiveFormat(path)
}

func buildInfo(format Format, entries []Entry) *Info {
	info := &Info{Format: format, Entries: entries}
	for _, e := range entries {
		if e.IsDirectory {
			continue
		}
		info.FileCount++
		info.TotalSize += e.Size
		if strings.EqualFold(filepath.Base(normalizeEntryPath(e.Path)), sidecarFilename) {
			info.HasComicInfo = true
		}
	}
	info.CoverEntryPath = pickCoverEntry(entries)
	return info
}

// matchesFilter reports whether an entry should be extracted: exact
// normalized-path match, else basename match.
func matchesFilter(entryPath string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	normalized := normalizeEntryPath(entryPath)
	base := filepath.Base(normalized)
	for _, want := range filter {
		wantNorm := normalizeEntryPath(want)
		if normalized == wantNorm || base == filepath.Base(wantNorm) {
			return true
		}
	}
	return false
}

// entryDepth counts directory levels in a normalized entry path.
func entryDepth(normalized string) int {
	return strings.Count(normalized, "/")
}

// safeJoin joins an entry path under dir, rejecting traversal outside it.
func safeJoin(dir, entryPath string) (string, error) {
	normalized := normalizeEntryPath(entryPath)
	dest := filepath.Join(dir, filepath.FromSlash(normalized))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", errors.Errorf("entry path escapes extraction directory: %s", entryPath)
	}
	return dest, nil
}

func writeEntry(dest string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.WithStack(err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return errors.WithStack(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return errors.WithStack(err)
	}
	return nil
}

// bufferMatch accumulates candidate entries during a full pass and picks the
// winner: exact normalized-path match beats basename matches, and among
// basename matches the shallowest path wins.
type bufferMatch struct {
	target string
	exact  []byte
	byName []byte
	depth  int
}

func newBufferMatch(entryPath string) *bufferMatch {
	return &bufferMatch{target: normalizeEntryPath(entryPath), depth: -1}
}

func (m *bufferMatch) consider(entryPath string, read func() ([]byte, error)) error {
	if m.exact != nil {
		return nil
	}
	normalized := normalizeEntryPath(entryPath)
	if normalized == m.target {
		data, err := read()
		if err != nil {
			return err
		}
		m.exact = data
		return nil
	}
	if filepath.Base(normalized) != filepath.Base(m.target) {
		return nil
	}
	depth := entryDepth(normalized)
	if m.byName != nil && depth >= m.depth {
		return nil
	}
	data, err := read()
	if err != nil {
		return err
	}
	m.byName = data
	m.depth = depth
	return nil
}

func (m *bufferMatch) result() []byte {
	if m.exact != nil {
		return m.exact
	}
	return m.byName
}

// --- ZIP backend ---

func listZIP(path string) ([]Entry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open zip %s", path)
	}
	defer zr.Close()

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, Entry{
			Path:        f.Name,
			Size:        int64(f.UncompressedSize64),
			PackedSize:  int64(f.CompressedSize64),
			IsDirectory: f.FileInfo().IsDir(),
			Modified:    f.Modified,
		})
	}
	return entries, nil
}

func extractZIP(path, outDir string, filter []string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open zip %s", path)
	}
	defer zr.Close()

	var written []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !matchesFilter(f.Name, filter) {
			continue
		}
		dest, err := safeJoin(outDir, f.Name)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		err = writeEntry(dest, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		written = append(written, dest)
	}
	return written, nil
}

func bufferZIP(path, entryPath string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open zip %s", path)
	}
	defer zr.Close()

	match := newBufferMatch(entryPath)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		err := match.consider(f.Name, func() ([]byte, error) {
			rc, err := f.Open()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			return data, errors.WithStack(err)
		})
		if err != nil {
			return nil, err
		}
	}
	return match.result(), nil
}

// --- RAR backend ---

// listRAR materializes the decoder's header iteration into an ordered slice
// up front; nothing downstream depends on lazy iteration semantics.
func listRAR(path string) ([]Entry, error) {
	rc, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open rar %s", path)
	}
	defer rc.Close()

	var entries []Entry
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read rar header in %s", path)
		}
		entries = append(entries, Entry{
			Path:        hdr.Name,
			Size:        hdr.UnPackedSize,
			PackedSize:  hdr.PackedSize,
			IsDirectory: hdr.IsDir,
			Modified:    hdr.ModificationTime,
		})
	}
	return entries, nil
}

func extractRAR(path, outDir string, filter []string) ([]string, error) {
	rc, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open rar %s", path)
	}
	defer rc.Close()

	var written []string
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read rar header in %s", path)
		}
		if hdr.IsDir || !matchesFilter(hdr.Name, filter) {
			continue
		}
		dest, err := safeJoin(outDir, hdr.Name)
		if err != nil {
			return nil, err
		}
		if err := writeEntry(dest, rc); err != nil {
			return nil, err
		}
		written = append(written, dest)
	}
	return written, nil
}

func bufferRAR(path, entryPath string) ([]byte, error) {
	rc, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open rar %s", path)
	}
	defer rc.Close()

	match := newBufferMatch(entryPath)
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read rar header in %s", path)
		}
		if hdr.IsDir {
			continue
		}
		// The decoder is a forward-only stream, so candidate bodies are
		// read at the point their header is current.
		err = match.consider(hdr.Name, func() ([]byte, error) {
			data, err := io.ReadAll(rc)
			return data, errors.WithStack(err)
		})
		if err != nil {
			return nil, err
		}
	}
	return match.result(), nil
}

// --- 7z backend ---

func list7z(path string) ([]Entry, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open 7z %s", path)
	}
	defer rc.Close()

	entries := make([]Entry, 0, len(rc.File))
	for _, f := range rc.File {
		size := int64(f.UncompressedSize)
		entries = append(entries, Entry{
			Path: f.Name,
			Size: size,
			// 7z compresses entries into solid blocks, so there is no
			// meaningful per-entry packed size.
			PackedSize:  size,
			IsDirectory: f.FileInfo().IsDir(),
			Modified:    f.Modified,
		})
	}
	return entries, nil
}

func extract7z(path, outDir string, filter []string) ([]string, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open 7z %s", path)
	}
	defer rc.Close()

	var written []string
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || !matchesFilter(f.Name, filter) {
			continue
		}
		dest, err := safeJoin(outDir, f.Name)
		if err != nil {
			return nil, err
		}
		r, err := f.Open()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		err = writeEntry(dest, r)
		r.Close()
		if err != nil {
			return nil, err
		}
		written = append(written, dest)
	}
	return written, nil
}

func buffer7z(path, entryPath string) ([]byte, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open 7z %s", path)
	}
	defer rc.Close()

	match := newBufferMatch(entryPath)
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		err := match.consider(f.Name, func() ([]byte, error) {
			r, err := f.Open()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			defer r.Close()
			data, err := io.ReadAll(r)
			return data, errors.WithStack(err)
		})
		if err != nil {
			return nil, err
		}
	}
	return match.result(), nil
}
