package models

import "time"

// ObservationJournal is the transient per-run record of every observation a
// batch processor accepted, kept for observability. Stored via gorm; the
// ledger store remains the source of truth for prices.
type ObservationJournal struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	RunID      string    `gorm:"index;size:36"`
	EntityID   string    `gorm:"index;size:64"`
	NaturalKey string
	Price      float64
	Source     string
	Outcome    string // recorded | unchanged | skipped | failed
	ObservedAt time.Time
	CreatedAt  time.Time
}

// RunAudit is the per-run summary row: attempted/succeeded/failed counts are
// always reported so partial success is never presented as full success.
type RunAudit struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	RunID      string    `gorm:"uniqueIndex;size:36"`
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	NewCount   int
	Changed    int
	Unchanged  int
	Skipped    int
	Archived   int
	FailedIDs  string // comma-separated entity ids
}
