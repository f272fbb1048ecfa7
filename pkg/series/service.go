package series

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobooks/tanko/pkg/errcodes"
	"github.com/tankobooks/tanko/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveSeriesOptions struct {
	ID        *int
	Name      *string
	LibraryID *int
}

type UpdateSeriesOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateSeries(ctx context.Context, s *models.Series) error {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(s).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	s := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(s)

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		// Series names are unique per library case-insensitively.
		q = q.Where("s.name = ? COLLATE NOCASE", *opts.Name)
	}
	if opts.LibraryID != nil {
		q = q.Where("s.library_id = ?", *opts.LibraryID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}

	return s, nil
}

// GetOrCreateSeries returns the series with the given name in the library,
// creating it when absent. Lookup is case-insensitive to match the unique
// index on (name, library_id).
func (svc *Service) GetOrCreateSeries(ctx context.Context, libraryID int, name string) (*models.Series, error) {
	existing, err := svc.RetrieveSeries(ctx, RetrieveSeriesOptions{Name: &name, LibraryID: &libraryID})
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errcodes.NotFound("Series")) {
		return nil, errors.WithStack(err)
	}

	s := &models.Series{
		LibraryID: libraryID,
		Name:      name,
	}
	if err := svc.CreateSeries(ctx, s); err != nil {
		return nil, errors.WithStack(err)
	}
	return s, nil
}

func (svc *Service) UpdateSeries(ctx context.Context, s *models.Series, opts UpdateSeriesOptions) error {
	s.UpdatedAt = time.Now()

	columns := append([]string{"updated_at"}, opts.Columns...)
	_, err := svc.db.
		NewUpdate().
		Model(s).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
