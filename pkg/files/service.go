package files

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobooks/tanko/pkg/errcodes"
	"github.com/tankobooks/tanko/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveFileOptions struct {
	ID        *int
	Filepath  *string
	LibraryID *int
}

type ListFilesOptions struct {
	LibraryID         *int
	SeriesID          *int
	Statuses          []string
	MissingSeriesName bool
	MissingCoverHash  bool
	HasCoverHash      bool
	OrderBySeries     bool
	Limit             *int
	Offset            *int
}

type UpdateFileOptions struct {
	Columns []string
}

// FieldUpdate carries one file's pending column updates so phase workers can
// return results instead of writing shared state.
type FieldUpdate struct {
	File    *models.File
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateFile(ctx context.Context, file *models.File) error {
	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = file.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(file).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// CreateFiles bulk-inserts a batch of new files. Callers fall back to
// per-row CreateFile calls when the bulk insert fails.
func (svc *Service) CreateFiles(ctx context.Context, files []*models.File) error {
	if len(files) == 0 {
		return nil
	}

	now := time.Now()
	for _, file := range files {
		if file.CreatedAt.IsZero() {
			file.CreatedAt = now
		}
		file.UpdatedAt = file.CreatedAt
	}

	_, err := svc.db.
		NewInsert().
		Model(&files).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveFile(ctx context.Context, opts RetrieveFileOptions) (*models.File, error) {
	file := &models.File{}

	q := svc.db.
		NewSelect().
		Model(file)

	if opts.ID != nil {
		q = q.Where("f.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("f.filepath = ?", *opts.Filepath)
	}
	if opts.LibraryID != nil {
		q = q.Where("f.library_id = ?", *opts.LibraryID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("File")
		}
		return nil, errors.WithStack(err)
	}

	return file, nil
}

func (svc *Service) ListFiles(ctx context.Context, opts ListFilesOptions) ([]*models.File, error) {
	files := []*models.File{}

	q := svc.db.
		NewSelect().
		Model(&files)

	if opts.LibraryID != nil {
		q = q.Where("f.library_id = ?", *opts.LibraryID)
	}
	if opts.SeriesID != nil {
		q = q.Where("f.series_id = ?", *opts.SeriesID)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("f.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.MissingSeriesName {
		q = q.Where("f.series_name_raw IS NULL")
	}
	if opts.MissingCoverHash {
		q = q.Where("f.cover_hash IS NULL")
	}
	if opts.HasCoverHash {
		q = q.Where("f.cover_hash IS NOT NULL")
	}
	if opts.OrderBySeries {
		q = q.Order("f.series_number ASC").Order("f.filename ASC")
	} else {
		q = q.Order("f.filepath ASC")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return files, nil
}

func (svc *Service) UpdateFile(ctx context.Context, file *models.File, opts UpdateFileOptions) error {
	file.UpdatedAt = time.Now()

	columns := append([]string{"updated_at"}, opts.Columns...)
	_, err := svc.db.
		NewUpdate().
		Model(file).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ApplyFieldUpdates flushes a batch of accumulated per-file updates in a
// single transaction.
func (svc *Service) ApplyFieldUpdates(ctx context.Context, updates []FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		for _, update := range updates {
			update.File.UpdatedAt = now
			columns := append([]string{"updated_at"}, update.Columns...)
			_, err := tx.
				NewUpdate().
				Model(update.File).
				Column(columns...).
				WherePK().
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ResetModifiedFile records a file's new size/mtime/hash and clears all
// phase-derived state in one transaction: series name and cover hash go back
// to null, the cached metadata row is deleted, and the status returns to
// pending so later phases re-process it.
func (svc *Service) ResetModifiedFile(ctx context.Context, file *models.File) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		file.UpdatedAt = time.Now()
		file.SeriesNameRaw = nil
		file.SeriesID = nil
		file.SeriesNumber = nil
		file.CoverHash = nil
		file.CoverPage = nil
		file.Status = models.FileStatusPending

		_, err := tx.
			NewUpdate().
			Model(file).
			Column(
				"updated_at", "filesize_bytes", "modified_at", "content_hash",
				"series_name_raw", "series_id", "series_number",
				"cover_hash", "cover_page", "status",
			).
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.
			NewDelete().
			Model((*models.ComicMetadata)(nil)).
			Where("file_id = ?", file.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// MarkOrphaned flips tracked files that disappeared from disk to orphaned.
// Already-orphaned rows are excluded so the operation is idempotent.
func (svc *Service) MarkOrphaned(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := svc.db.
		NewUpdate().
		Model((*models.File)(nil)).
		Set("status = ?", models.FileStatusOrphaned).
		Set("updated_at = ?", time.Now()).
		Where("id IN (?)", bun.In(ids)).
		Where("status != ?", models.FileStatusOrphaned).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

// UpsertMetadata writes a batch of metadata rows in one call, replacing any
// existing row for the same file.
func (svc *Service) UpsertMetadata(ctx context.Context, items []*models.ComicMetadata) error {
	if len(items) == 0 {
		return nil
	}

	now := time.Now()
	for _, item := range items {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
	}

	_, err := svc.db.
		NewInsert().
		Model(&items).
		On("CONFLICT (file_id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("title = EXCLUDED.title").
		Set("series = EXCLUDED.series").
		Set("number = EXCLUDED.number").
		Set("writer = EXCLUDED.writer").
		Set("publisher = EXCLUDED.publisher").
		Set("page_count = EXCLUDED.page_count").
		Set("source = EXCLUDED.source").
		Set("has_sidecar = EXCLUDED.has_sidecar").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
