package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	MetadataSourceSidecar  = "sidecar"
	MetadataSourceFolder   = "folder"
	MetadataSourceFilename = "filename"
)

// ComicMetadata holds the per-file metadata extracted by the metadata phase.
// When an archive carries no ComicInfo.xml sidecar a minimal row is still
// synthesized so downstream consumers never see a missing record.
type ComicMetadata struct {
	bun.BaseModel `bun:"table:comic_metadata,alias:cm"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FileID     int       `bun:",nullzero" json:"file_id"`
	File       *File     `bun:"rel:belongs-to" json:"file,omitempty"`
	Title      *string   `json:"title"`
	Series     string    `bun:",nullzero" json:"series"`
	Number     *float64  `json:"number"`
	Writer     *string   `json:"writer"`
	Publisher  *string   `json:"publisher"`
	PageCount  *int      `json:"page_count"`
	Source     string    `bun:",nullzero" json:"source"`
	HasSidecar bool      `json:"has_sidecar"`
}
