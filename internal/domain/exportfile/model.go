// Package exportfile is the registry of export jobs: one row per requested
// export, tracking progress, the generated archive and completion time. The
// registry is also the dedup gate: a study/description pair can only have one
// incomplete job at a time.
package exportfile

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrExportInProgress means an incomplete job already exists for the
	// same study and description.
	ErrExportInProgress = errors.New("an export with the same description is already running")
	// ErrNotFound means no export file row matches.
	ErrNotFound = errors.New("export file not found")
)

// ExportFile is one registry row.
type ExportFile struct {
	ID                uuid.UUID  `json:"id"`
	ExportIdentifier  string     `json:"export_identifier"`
	Study             string     `json:"study"`
	Description       string     `json:"description"`
	Document          string     `json:"document,omitempty"`
	DownloadComplete  bool       `json:"download_complete"`
	DownloadTime      *time.Time `json:"download_time,omitempty"`
	DatetimeStarted   time.Time  `json:"datetime_started"`
	DatetimeCompleted *time.Time `json:"datetime_completed,omitempty"`
}

// Duration returns how long the job ran, zero while still running.
func (e *ExportFile) Duration() time.Duration {
	if e.DatetimeCompleted == nil {
		return 0
	}
	return e.DatetimeCompleted.Sub(e.DatetimeStarted)
}
