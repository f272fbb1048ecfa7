package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Type      string    `bun:",nullzero" json:"type"`
	Status    string    `bun:",nullzero" json:"status"`
	LibraryID *int      `json:"library_id,omitempty"`
	Progress  int       `json:"progress"`
	Error     *string   `json:"error,omitempty"`
	ProcessID *string   `json:"process_id,omitempty"`
}
