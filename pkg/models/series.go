package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID             int        `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `bun:",soft_delete" json:"-"`
	LibraryID      int        `bun:",nullzero" json:"library_id"`
	Library        *Library   `bun:"rel:belongs-to" json:"library,omitempty"`
	Name           string     `bun:",nullzero" json:"name"`
	CoverImagePath *string    `json:"cover_image_path,omitempty"`
	CoverHash      *string    `json:"cover_hash,omitempty"`
	Files          []*File    `bun:"rel:has-many" json:"files,omitempty"`
	FileCount      int        `bun:",scanonly" json:"file_count"`
}
