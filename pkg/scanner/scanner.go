package scanner

import (
	"runtime"
	"time"

	"github.com/tankobooks/tanko/pkg/archive"
	"github.com/tankobooks/tanko/pkg/config"
	"github.com/tankobooks/tanko/pkg/files"
	"github.com/tankobooks/tanko/pkg/libraries"
	"github.com/tankobooks/tanko/pkg/series"
	"github.com/uptrace/bun"
)

const (
	// DefaultBatchSize is used by discovery inserts and metadata selection.
	DefaultBatchSize = 100
	// CoverBatchSize stays small: image work is CPU-bound.
	CoverBatchSize = 20
	// flushThreshold is how many accumulated writes trigger a flush in the
	// metadata phase.
	flushThreshold = 100
)

// Options tune a single phase invocation. Cancellation is cooperative:
// ShouldCancel is polled before each directory or batch, partial work is
// kept, and a re-run picks up whatever still needs processing.
type Options struct {
	BatchSize     int
	ForceFullScan bool
	OnProgress    func(processed, total int)
	ShouldCancel  func() bool
}

func (o Options) batchSize(fallback int) int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return fallback
}

func (o Options) cancelled() bool {
	return o.ShouldCancel != nil && o.ShouldCancel()
}

func (o Options) progress(processed, total int) {
	if o.OnProgress != nil {
		o.OnProgress(processed, total)
	}
}

// PhaseResult is the summary every phase returns. Per-file and per-batch
// errors are counted rather than failing the phase; only fatal conditions
// (e.g. an unreadable library root) surface as an error return instead.
type PhaseResult struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

type DiscoveryResult struct {
	PhaseResult

	NewFiles       int `json:"new_files"`
	ModifiedFiles  int `json:"modified_files"`
	UnchangedFiles int `json:"unchanged_files"`
	RestoredFiles  int `json:"restored_files"`
	OrphanedFiles  int `json:"orphaned_files"`
}

type MetadataResult struct {
	PhaseResult

	FromSidecar  int `json:"from_sidecar"`
	FromFolder   int `json:"from_folder"`
	FromFilename int `json:"from_filename"`
}

type CoverResult struct {
	PhaseResult

	CoversExtracted int `json:"covers_extracted"`
	SeriesUpdated   int `json:"series_updated"`
}

// Scanner runs the three scan phases over a library: discovery reconciles
// disk against tracked records, metadata extracts embedded sidecars, and the
// cover phase extracts representative page images.
type Scanner struct {
	reader         *archive.Reader
	fileService    *files.Service
	seriesService  *series.Service
	libraryService *libraries.Service

	coverDir string
	// Archives hold open file descriptors, so the metadata pool is sized by
	// an I/O heuristic rather than left unbounded.
	metadataWorkers int
	hashWorkers     int
}

func New(cfg *config.Config, db *bun.DB, reader *archive.Reader) *Scanner {
	workers := runtime.GOMAXPROCS(0) * 2
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}

	return &Scanner{
		reader:          reader,
		fileService:     files.NewService(db),
		seriesService:   series.NewService(db),
		libraryService:  libraries.NewService(db),
		coverDir:        cfg.CoverCacheDir,
		metadataWorkers: workers,
		hashWorkers:     workers,
	}
}
