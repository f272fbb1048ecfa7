package archive

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry describes a single archive member. Entries are ephemeral: they are
// produced by List and never persisted.
type Entry struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	PackedSize  int64     `json:"packed_size"`
	IsDirectory bool      `json:"is_directory"`
	Modified    time.Time `json:"modified"`
}

// Info is the result of listing an archive. Listings are cached keyed by the
// file's (mtime, size) fingerprint.
type Info struct {
	Format         Format  `json:"format"`
	FileCount      int     `json:"file_count"`
	TotalSize      int64   `json:"total_size"`
	Entries        []Entry `json:"entries"`
	HasComicInfo   bool    `json:"has_comic_info"`
	CoverEntryPath string  `json:"cover_entry_path"`
}

// ImagePaths returns the listing's page images in reading order.
func (i *Info) ImagePaths() []string {
	return ImageEntries(i.Entries)
}

// ExtractionResult reports what an Extract call wrote to disk.
type ExtractionResult struct {
	OutputDir      string   `json:"output_dir"`
	ExtractedFiles []string `json:"extracted_files"`
}

// ValidationResult distinguishes "archive present but invalid" from
// "archive absent": the latter is an error return, the former sets Valid
// false with a reason.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Format    Format `json:"format"`
	PageCount int    `json:"page_count"`
	Error     string `json:"error,omitempty"`
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

func isImageEntry(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// normalizeEntryPath converts both separator styles to forward slashes so
// entries written on Windows match lookups on any platform.
func normalizeEntryPath(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
}

// folder-image names conventionally used as covers by library managers.
var folderImageNames = map[string]struct{}{
	"folder.jpg":  {},
	"folder.jpeg": {},
	"folder.png":  {},
	"poster.jpg":  {},
	"poster.png":  {},
}

// ImageEntries returns the archive's page images sorted by path, which is
// the order readers present pages in.
func ImageEntries(entries []Entry) []string {
	images := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDirectory || !isImageEntry(e.Path) {
			continue
		}
		images = append(images, e.Path)
	}
	sort.Strings(images)
	return images
}

// pickCoverEntry chooses the representative cover for a listing: the first
// entry whose basename starts with "cover" or matches a conventional
// folder-image name, otherwise the first image entry sorted by path.
func pickCoverEntry(entries []Entry) string {
	images := ImageEntries(entries)
	if len(images) == 0 {
		return ""
	}

	for _, path := range images {
		base := strings.ToLower(filepath.Base(normalizeEntryPath(path)))
		if strings.HasPrefix(base, "cover") {
			return path
		}
		if _, ok := folderImageNames[base]; ok {
			return path
		}
	}
	return images[0]
}
