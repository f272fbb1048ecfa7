package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobooks/tanko/pkg/files"
	"github.com/tankobooks/tanko/pkg/models"
	"github.com/tankobooks/tanko/pkg/series"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// thumbnailMaxHeight bounds the generated thumbnail; the full-size cover is
// kept alongside it untouched.
const thumbnailMaxHeight = 400

// ExtractCovers pulls the representative page out of every indexed file that
// doesn't have one yet, writes the image and a thumbnail to the cover cache,
// and then recomputes the cover of each series it touched. Batches fail as a
// unit: one bad archive marks its batch failed and the phase moves on.
func (s *Scanner) ExtractCovers(ctx context.Context, libraryID int, opts Options) (*CoverResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	result := &CoverResult{}

	if err := os.MkdirAll(s.coverDir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}

	worklist, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		LibraryID:        &libraryID,
		Statuses:         []string{models.FileStatusIndexed},
		MissingCoverHash: true,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	batchSize := opts.batchSize(CoverBatchSize)
	touchedSeries := map[int]struct{}{}

	for offset := 0; offset < len(worklist); offset += batchSize {
		if opts.cancelled() {
			break
		}

		end := offset + batchSize
		if end > len(worklist) {
			end = len(worklist)
		}
		batch := worklist[offset:end]

		if err := s.processCoverBatch(ctx, batch); err != nil {
			log.Err(err).Warn("cover batch failed", logger.Data{"batch_size": len(batch)})
			result.Errors += len(batch)
		} else {
			result.CoversExtracted += len(batch)
			for _, file := range batch {
				if file.SeriesID != nil {
					touchedSeries[*file.SeriesID] = struct{}{}
				}
			}
		}

		result.Processed += len(batch)
		opts.progress(result.Processed, len(worklist))
	}

	seriesIDs := make([]int, 0, len(touchedSeries))
	for id := range touchedSeries {
		seriesIDs = append(seriesIDs, id)
	}
	sort.Ints(seriesIDs)
	for _, id := range seriesIDs {
		if err := s.recomputeSeriesCover(ctx, id); err != nil {
			log.Err(err).Warn("failed to recompute series cover", logger.Data{"series_id": id})
			result.Errors++
			continue
		}
		result.SeriesUpdated++
	}

	result.Success = true
	result.Duration = time.Since(start)
	log.Info("cover phase finished", logger.Data{
		"library_id":       libraryID,
		"covers_extracted": result.CoversExtracted,
		"series_updated":   result.SeriesUpdated,
		"errors":           result.Errors,
	})
	return result, nil
}

func (s *Scanner) processCoverBatch(ctx context.Context, batch []*models.File) error {
	updates := make([]files.FieldUpdate, 0, len(batch))
	for _, file := range batch {
		data, page, err := s.extractCover(file)
		if err != nil {
			return errors.Wrapf(err, "extracting cover from %s", file.Filepath)
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if err := s.writeCoverFiles(ctx, file.ID, data); err != nil {
			return errors.WithStack(err)
		}

		file.CoverHash = &hash
		file.CoverPage = &page
		updates = append(updates, files.FieldUpdate{
			File:    file,
			Columns: []string{"cover_hash", "cover_page"},
		})
	}

	return errors.WithStack(s.fileService.ApplyFieldUpdates(ctx, updates))
}

// extractCover returns the cover image bytes and the page index the cover
// occupies in reading order.
func (s *Scanner) extractCover(file *models.File) ([]byte, int, error) {
	info, err := s.reader.List(file.Filepath)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	if info.CoverEntryPath == "" {
		return nil, 0, errors.Errorf("archive %s has no image entries", file.Filepath)
	}

	data, err := s.reader.ExtractToBuffer(file.Filepath, info.CoverEntryPath)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	if data == nil {
		return nil, 0, errors.Errorf("cover entry %s vanished from %s", info.CoverEntryPath, file.Filepath)
	}

	page := 0
	for i, path := range info.ImagePaths() {
		if path == info.CoverEntryPath {
			page = i
			break
		}
	}
	return data, page, nil
}

// writeCoverFiles stores the full-size cover plus a downscaled JPEG
// thumbnail. Thumbnail generation is best effort: an undecodable image keeps
// its full-size cover and just skips the thumbnail.
func (s *Scanner) writeCoverFiles(ctx context.Context, fileID int, data []byte) error {
	if err := os.WriteFile(s.coverPath(fileID), data, 0o644); err != nil {
		return errors.WithStack(err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("skipping thumbnail for undecodable cover", logger.Data{"file_id": fileID})
		return nil
	}

	bounds := img.Bounds()
	if bounds.Dy() > thumbnailMaxHeight {
		width := bounds.Dx() * thumbnailMaxHeight / bounds.Dy()
		if width < 1 {
			width = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, width, thumbnailMaxHeight))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	thumb, err := os.Create(s.thumbnailPath(fileID))
	if err != nil {
		return errors.WithStack(err)
	}
	defer thumb.Close()

	if err := jpeg.Encode(thumb, img, &jpeg.Options{Quality: 85}); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (s *Scanner) coverPath(fileID int) string {
	return filepath.Join(s.coverDir, fmt.Sprintf("file_%d.img", fileID))
}

func (s *Scanner) thumbnailPath(fileID int) string {
	return filepath.Join(s.coverDir, fmt.Sprintf("file_%d_thumb.jpg", fileID))
}

// recomputeSeriesCover points the series at the cover of its first file in
// series order.
func (s *Scanner) recomputeSeriesCover(ctx context.Context, seriesID int) error {
	one := 1
	candidates, err := s.fileService.ListFiles(ctx, files.ListFilesOptions{
		SeriesID:      &seriesID,
		HasCoverHash:  true,
		OrderBySeries: true,
		Limit:         &one,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	sr, err := s.seriesService.RetrieveSeries(ctx, series.RetrieveSeriesOptions{ID: &seriesID})
	if err != nil {
		return errors.WithStack(err)
	}

	if len(candidates) == 0 {
		sr.CoverHash = nil
		sr.CoverImagePath = nil
	} else {
		first := candidates[0]
		coverPath := s.coverPath(first.ID)
		sr.CoverHash = first.CoverHash
		sr.CoverImagePath = &coverPath
	}

	err = s.seriesService.UpdateSeries(ctx, sr, series.UpdateSeriesOptions{
		Columns: []string{"cover_hash", "cover_image_path"},
	})
	return errors.WithStack(err)
}
