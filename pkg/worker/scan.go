package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobooks/tanko/pkg/jobs"
	"github.com/tankobooks/tanko/pkg/libraries"
	"github.com/tankobooks/tanko/pkg/models"
	"github.com/tankobooks/tanko/pkg/scanner"
)

// phasesPerLibrary is discovery, metadata, and covers.
const phasesPerLibrary = 3

// ProcessScanJob runs the three scan phases against the job's library, or
// against every library when the job doesn't name one. Phase-level failures
// fail the job; per-file problems are already absorbed into phase results.
func (w *Worker) ProcessScanJob(ctx context.Context, job *models.Job) error {
	log := logger.FromContext(ctx)

	var libs []*models.Library
	if job.LibraryID != nil {
		library, err := w.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: job.LibraryID})
		if err != nil {
			return errors.WithStack(err)
		}
		libs = []*models.Library{library}
	} else {
		all, err := w.libraryService.ListLibraries(ctx, libraries.ListLibrariesOptions{})
		if err != nil {
			return errors.WithStack(err)
		}
		libs = all
	}
	if len(libs) == 0 {
		log.Info("no libraries to scan")
		return nil
	}

	opts := scanner.Options{
		BatchSize:    w.config.ScanBatchSize,
		ShouldCancel: w.shuttingDown,
	}

	totalPhases := len(libs) * phasesPerLibrary
	completedPhases := 0
	advance := func() error {
		completedPhases++
		job.Progress = completedPhases * 100 / totalPhases
		err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{Columns: []string{"progress"}})
		return errors.WithStack(err)
	}

	for _, library := range libs {
		log.Info("scanning library", logger.Data{"library_id": library.ID, "name": library.Name})

		discovery, err := w.scanner.DiscoverLibrary(ctx, library.ID, opts)
		if err != nil {
			return errors.Wrapf(err, "discovery failed for library %d", library.ID)
		}
		if err := advance(); err != nil {
			return err
		}

		metadata, err := w.scanner.ExtractMetadata(ctx, library.ID, opts)
		if err != nil {
			return errors.Wrapf(err, "metadata phase failed for library %d", library.ID)
		}
		if err := advance(); err != nil {
			return err
		}

		covers, err := w.scanner.ExtractCovers(ctx, library.ID, opts)
		if err != nil {
			return errors.Wrapf(err, "cover phase failed for library %d", library.ID)
		}
		if err := advance(); err != nil {
			return err
		}

		log.Info("library scan complete", logger.Data{
			"library_id": library.ID,
			"new":        discovery.NewFiles,
			"modified":   discovery.ModifiedFiles,
			"orphaned":   discovery.OrphanedFiles,
			"indexed":    metadata.Processed,
			"covers":     covers.CoversExtracted,
		})

		if w.shuttingDown() {
			log.Info("scan interrupted by shutdown", logger.Data{"library_id": library.ID})
			break
		}
	}

	return nil
}
