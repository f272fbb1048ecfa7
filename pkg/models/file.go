package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	FileStatusPending = "pending"
	FileStatusIndexed = "indexed"
	// An orphan restored by discovery keeps its enriched fields and goes
	// straight back to indexed when series_name_raw is set; the metadata
	// phase only selects rows where series_name_raw is NULL, so parking it
	// at pending would strand it.
	FileStatusOrphaned = "orphaned"
)

// File is a tracked comic archive on disk. Created by the discovery phase,
// enriched by the metadata and cover phases. Rows are never deleted by the
// scan pipeline; removal is an administrative action.
type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID            int       `bun:",pk,nullzero" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LibraryID     int       `bun:",nullzero" json:"library_id"`
	Library       *Library  `bun:"rel:belongs-to" json:"library,omitempty"`
	Filepath      string    `bun:",nullzero" json:"filepath"`
	RelativePath  string    `bun:",nullzero" json:"relative_path"`
	Filename      string    `bun:",nullzero" json:"filename"`
	Extension     string    `bun:",nullzero" json:"extension"`
	FilesizeBytes int64     `bun:",nullzero" json:"filesize_bytes"`
	ModifiedAt    time.Time `json:"modified_at"`
	ContentHash   string    `bun:",nullzero" json:"content_hash"`
	Status        string    `bun:",nullzero,default:'pending'" json:"status"`
	SeriesNameRaw *string   `json:"series_name_raw"`
	SeriesID      *int      `json:"series_id"`
	Series        *Series   `bun:"rel:belongs-to,join:series_id=id" json:"series,omitempty"`
	SeriesNumber  *float64  `json:"series_number"`
	CoverHash     *string   `json:"cover_hash"`
	CoverPage     *int      `json:"cover_page"`
	PageCount     *int      `json:"page_count"`
}
