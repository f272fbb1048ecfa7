package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobooks/tanko/pkg/files"
	"github.com/tankobooks/tanko/pkg/libraries"
	"github.com/tankobooks/tanko/pkg/models"
	"golang.org/x/sync/errgroup"
)

// errCancelled is a sentinel used to unwind a walk when the caller asked for
// cooperative cancellation. It never escapes DiscoverLibrary.
var errCancelled = errors.New("scan cancelled")

var comicExtensions = map[string]struct{}{
	".cbz": {},
	".cbr": {},
	".cb7": {},
}

// Content sniffing gates the walk. A mis-extensioned archive (e.g. RAR bytes
// in a .cbz) is still accepted here; the format sniffer sorts it out when the
// archive is actually opened.
var archiveMimeTypes = map[string]struct{}{
	"application/zip":              {},
	"application/x-rar-compressed": {},
	"application/vnd.rar":          {},
	"application/x-7z-compressed":  {},
}

type candidate struct {
	info fs.FileInfo
	root string
}

// DiscoverLibrary walks every root of the library, reconciles what it finds
// against the tracked files, and buckets each file as new, modified,
// unchanged, restored, or orphaned. An unreadable library root is fatal; a
// single unreadable file is counted and skipped.
func (s *Scanner) DiscoverLibrary(ctx context.Context, libraryID int, opts Options) (*DiscoveryResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &DiscoveryResult{}

	library, err := s.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: &libraryID})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	seen := map[string]candidate{}
	cancelled := false
	for _, root := range library.LibraryPaths {
		if cancelled {
			break
		}
		if _, err := os.Stat(root.Filepath); err != nil {
			return nil, errors.Wrapf(err, "library root %s is not readable", root.Filepath)
		}

		err := s.walkRoot(ctx, root.Filepath, opts, seen, result)
		if errors.Is(err, errCancelled) {
			cancelled = true
			continue
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	existing, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{LibraryID: &libraryID})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	existingByPath := make(map[string]*models.File, len(existing))
	for _, file := range existing {
		existingByPath[file.Filepath] = file
	}

	newPaths := make([]string, 0)
	for path := range seen {
		if _, ok := existingByPath[path]; !ok {
			newPaths = append(newPaths, path)
		}
	}
	sort.Strings(newPaths)

	// Tracked files first: restore orphans that reappeared, reset modified
	// ones, and leave unchanged ones alone on a delta scan.
	for path, cand := range seen {
		file, ok := existingByPath[path]
		if !ok {
			continue
		}

		unchanged := cand.info.ModTime().UnixMilli() == file.ModifiedAt.UnixMilli() &&
			cand.info.Size() == file.FilesizeBytes
		if unchanged && !opts.ForceFullScan {
			if file.Status == models.FileStatusOrphaned {
				// A restored file keeps its enriched fields, so it goes back
				// to indexed unless the metadata phase never reached it.
				file.Status = models.FileStatusPending
				if file.SeriesNameRaw != nil {
					file.Status = models.FileStatusIndexed
				}
				err := s.fileService.UpdateFile(ctx, file, files.UpdateFileOptions{Columns: []string{"status"}})
				if err != nil {
					log.Err(err).Warn("failed to restore orphaned file", logger.Data{"filepath": path})
					result.Errors++
					continue
				}
				result.RestoredFiles++
			} else {
				result.UnchangedFiles++
			}
			continue
		}

		hash, err := PartialContentHash(path)
		if err != nil {
			log.Err(err).Warn("failed to hash modified file", logger.Data{"filepath": path})
			result.Errors++
			continue
		}
		file.FilesizeBytes = cand.info.Size()
		file.ModifiedAt = cand.info.ModTime()
		file.ContentHash = hash
		if err := s.fileService.ResetModifiedFile(ctx, file); err != nil {
			log.Err(err).Warn("failed to reset modified file", logger.Data{"filepath": path})
			result.Errors++
			continue
		}
		result.ModifiedFiles++
	}

	// New files: hash in parallel, insert in bulk, fall back to per-row
	// inserts when a batch fails so one bad row doesn't sink its batch.
	batchSize := opts.batchSize(DefaultBatchSize)
	for offset := 0; offset < len(newPaths); offset += batchSize {
		if cancelled || opts.cancelled() {
			cancelled = true
			break
		}

		end := offset + batchSize
		if end > len(newPaths) {
			end = len(newPaths)
		}
		batch := newPaths[offset:end]

		inserted, errCount := s.insertNewFiles(ctx, libraryID, batch, seen)
		result.NewFiles += inserted
		result.Errors += errCount
		opts.progress(offset+len(batch), len(newPaths))
	}

	// Orphan detection needs a complete walk; skip it when cancelled so files
	// under unvisited roots aren't falsely flagged.
	if !cancelled {
		orphanIDs := make([]int, 0)
		for path, file := range existingByPath {
			if _, ok := seen[path]; ok {
				continue
			}
			if file.Status == models.FileStatusOrphaned {
				continue
			}
			orphanIDs = append(orphanIDs, file.ID)
		}
		count, err := s.fileService.MarkOrphaned(ctx, orphanIDs)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result.OrphanedFiles = count
	}

	result.Processed = len(seen)
	result.Success = true
	result.Duration = time.Since(start)
	log.Info("discovery finished", logger.Data{
		"library_id": libraryID,
		"new":        result.NewFiles,
		"modified":   result.ModifiedFiles,
		"unchanged":  result.UnchangedFiles,
		"restored":   result.RestoredFiles,
		"orphaned":   result.OrphanedFiles,
		"errors":     result.Errors,
		"cancelled":  cancelled,
	})
	return result, nil
}

func (s *Scanner) walkRoot(ctx context.Context, root string, opts Options, seen map[string]candidate, result *DiscoveryResult) error {
	log := logger.FromContext(ctx)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return errors.WithStack(err)
			}
			log.Err(err).Warn("skipping unreadable path", logger.Data{"path": path})
			result.Errors++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if opts.cancelled() {
				return errCancelled
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := comicExtensions[ext]; !ok {
			return nil
		}

		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			log.Err(err).Warn("failed to sniff file", logger.Data{"path": path})
			result.Errors++
			return nil
		}
		if _, ok := archiveMimeTypes[mtype.String()]; !ok {
			log.Warn("skipping file with non-archive content", logger.Data{
				"path": path,
				"mime": mtype.String(),
			})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Err(err).Warn("failed to stat file", logger.Data{"path": path})
			result.Errors++
			return nil
		}

		seen[path] = candidate{info: info, root: root}
		return nil
	})
}

// insertNewFiles hashes one batch of paths in parallel and bulk-inserts the
// rows. Returns the number of rows inserted and the number of per-file
// failures.
func (s *Scanner) insertNewFiles(ctx context.Context, libraryID int, batch []string, seen map[string]candidate) (int, int) {
	log := logger.FromContext(ctx)

	rows := make([]*models.File, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.hashWorkers)
	for i, path := range batch {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			cand := seen[path]
			hash, err := PartialContentHash(path)
			if err != nil {
				log.Err(err).Warn("failed to hash new file", logger.Data{"filepath": path})
				return nil
			}

			relPath, err := filepath.Rel(cand.root, path)
			if err != nil {
				relPath = filepath.Base(path)
			}
			rows[i] = &models.File{
				LibraryID:     libraryID,
				Filepath:      path,
				RelativePath:  filepath.ToSlash(relPath),
				Filename:      filepath.Base(path),
				Extension:     strings.ToLower(filepath.Ext(path)),
				FilesizeBytes: cand.info.Size(),
				ModifiedAt:    cand.info.ModTime(),
				ContentHash:   hash,
				Status:        models.FileStatusPending,
			}
			return nil
		})
	}
	_ = g.Wait()

	toInsert := make([]*models.File, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			toInsert = append(toInsert, row)
		}
	}
	errCount := len(batch) - len(toInsert)

	if err := s.fileService.CreateFiles(ctx, toInsert); err != nil {
		log.Err(err).Warn("bulk insert failed, retrying per row", logger.Data{"batch_size": len(toInsert)})

		inserted := 0
		for _, row := range toInsert {
			if err := s.fileService.CreateFile(ctx, row); err != nil {
				log.Err(err).Warn("failed to insert file", logger.Data{"filepath": row.Filepath})
				errCount++
				continue
			}
			inserted++
		}
		return inserted, errCount
	}

	return len(toInsert), errCount
}
