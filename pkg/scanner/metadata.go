package scanner

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/sourcegraph/conc/pool"
	"github.com/tankobooks/tanko/pkg/comicinfo"
	"github.com/tankobooks/tanko/pkg/files"
	"github.com/tankobooks/tanko/pkg/models"
)

type metadataOutcome struct {
	file     *models.File
	metadata *models.ComicMetadata
	source   string
	err      error
}

// ExtractMetadata fills in series naming for every file that doesn't have it
// yet. Workers read archives concurrently; all database writes happen on the
// orchestrating goroutine and are flushed in batched transactions. A file
// whose archive can't be read is counted and skipped, never fatal.
func (s *Scanner) ExtractMetadata(ctx context.Context, libraryID int, opts Options) (*MetadataResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &MetadataResult{}

	// Snapshot the worklist up front so files that fail extraction aren't
	// re-selected in a later batch of the same run.
	worklist, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID:         &libraryID,
		MissingSeriesName: true,
		Statuses:          []string{models.FileStatusPending, models.FileStatusIndexed},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	batchSize := opts.batchSize(DefaultBatchSize)
	pendingUpdates := make([]files.FieldUpdate, 0, flushThreshold)
	pendingMetadata := make([]*models.ComicMetadata, 0, flushThreshold)
	seriesByName := map[string]int{}

	flush := func() {
		if err := s.fileService.ApplyFieldUpdates(ctx, pendingUpdates); err != nil {
			log.Err(err).Warn("failed to flush file updates", logger.Data{"count": len(pendingUpdates)})
			result.Errors += len(pendingUpdates)
		} else if err := s.fileService.UpsertMetadata(ctx, pendingMetadata); err != nil {
			log.Err(err).Warn("failed to upsert metadata rows", logger.Data{"count": len(pendingMetadata)})
			result.Errors++
		}
		pendingUpdates = pendingUpdates[:0]
		pendingMetadata = pendingMetadata[:0]
	}

	for offset := 0; offset < len(worklist); offset += batchSize {
		if opts.cancelled() {
			break
		}

		end := offset + batchSize
		if end > len(worklist) {
			end = len(worklist)
		}
		batch := worklist[offset:end]

		p := pool.NewWithResults[*metadataOutcome]().WithMaxGoroutines(s.metadataWorkers)
		for _, file := range batch {
			p.Go(func() *metadataOutcome {
				return s.extractFileMetadata(ctx, file)
			})
		}
		outcomes := p.Wait()

		for _, oc := range outcomes {
			if oc.err != nil {
				log.Err(oc.err).Warn("failed to extract metadata", logger.Data{"filepath": oc.file.Filepath})
				result.Errors++
				continue
			}

			key := strings.ToLower(oc.metadata.Series)
			seriesID, ok := seriesByName[key]
			if !ok {
				series, err := s.seriesService.GetOrCreateSeries(ctx, libraryID, oc.metadata.Series)
				if err != nil {
					log.Err(err).Warn("failed to resolve series", logger.Data{
						"filepath": oc.file.Filepath,
						"series":   oc.metadata.Series,
					})
					result.Errors++
					continue
				}
				seriesID = series.ID
				seriesByName[key] = seriesID
			}
			oc.file.SeriesID = &seriesID

			pendingUpdates = append(pendingUpdates, files.FieldUpdate{
				File:    oc.file,
				Columns: []string{"series_name_raw", "series_id", "series_number", "page_count", "status"},
			})
			pendingMetadata = append(pendingMetadata, oc.metadata)

			switch oc.source {
			case models.MetadataSourceSidecar:
				result.FromSidecar++
			case models.MetadataSourceFolder:
				result.FromFolder++
			default:
				result.FromFilename++
			}
		}

		result.Processed += len(batch)
		if len(pendingUpdates) >= flushThreshold {
			flush()
		}
		opts.progress(result.Processed, len(worklist))
	}
	flush()

	result.Success = true
	result.Duration = time.Since(start)
	log.Info("metadata phase finished", logger.Data{
		"library_id":    libraryID,
		"processed":     result.Processed,
		"from_sidecar":  result.FromSidecar,
		"from_folder":   result.FromFolder,
		"from_filename": result.FromFilename,
		"errors":        result.Errors,
	})
	return result, nil
}

// extractFileMetadata runs inside a worker: it only reads the archive and
// derives values, leaving every write to the orchestrator.
func (s *Scanner) extractFileMetadata(ctx context.Context, file *models.File) *metadataOutcome {
	oc := &metadataOutcome{file: file}
	log := logger.FromContext(ctx)

	data, err := s.reader.ExtractToBuffer(file.Filepath, comicinfo.Filename)
	if err != nil {
		oc.err = errors.WithStack(err)
		return oc
	}

	var ci *comicinfo.ComicInfo
	if data != nil {
		ci, err = comicinfo.Parse(data)
		if err != nil {
			// A corrupt sidecar degrades to the naming fallbacks.
			log.Err(err).Warn("unparseable ComicInfo.xml", logger.Data{"filepath": file.Filepath})
			ci = nil
		}
	}

	seriesName := ""
	source := models.MetadataSourceFilename
	if ci != nil && strings.TrimSpace(ci.Series) != "" {
		seriesName = strings.TrimSpace(ci.Series)
		source = models.MetadataSourceSidecar
	} else {
		// Only a parent folder below the library root is meaningful; a file
		// sitting directly in the root falls through to its filename.
		if strings.Contains(filepath.ToSlash(file.RelativePath), "/") {
			if name := comicinfo.SeriesFromFolder(filepath.Dir(file.Filepath)); name != "" {
				seriesName = name
				source = models.MetadataSourceFolder
			}
		}
		if seriesName == "" {
			seriesName = comicinfo.SeriesFromFilename(file.Filename)
		}
	}

	var number *float64
	var pageCount *int
	if ci != nil {
		number = ci.ParsedNumber()
		pageCount = ci.ParsedPageCount()
	}
	if number == nil {
		number = comicinfo.NumberFromFilename(file.Filename)
	}

	file.SeriesNameRaw = &seriesName
	file.SeriesNumber = number
	if pageCount != nil {
		file.PageCount = pageCount
	}
	file.Status = models.FileStatusIndexed

	metadata := &models.ComicMetadata{
		FileID:     file.ID,
		Series:     seriesName,
		Number:     number,
		PageCount:  pageCount,
		Source:     source,
		HasSidecar: ci != nil,
	}
	if ci != nil {
		if t := strings.TrimSpace(ci.Title); t != "" {
			metadata.Title = pointerutil.String(t)
		}
		if w := strings.TrimSpace(ci.Writer); w != "" {
			metadata.Writer = pointerutil.String(w)
		}
		if p := strings.TrimSpace(ci.Publisher); p != "" {
			metadata.Publisher = pointerutil.String(p)
		}
	}

	oc.metadata = metadata
	oc.source = source
	return oc
}
