package models

import "time"

// Observation is one normalized entity sighting produced by upstream
// extraction. Location fields arrive verbatim; no geocoding happens here.
type Observation struct {
	NaturalKey string            `json:"natural_key" binding:"required"`
	ParentID   string            `json:"parent_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	OfferedBy  string            `json:"offered_by"`
	Location   Location          `json:"location"`
	Price      float64           `json:"price"`
	Source     string            `json:"source"`
	Context    map[string]string `json:"context,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}

// ArchiveEvent signals that upstream marked a parent listing unavailable.
type ArchiveEvent struct {
	ParentID   string    `json:"parent_id" binding:"required"`
	ArchivedAt time.Time `json:"archived_at"`
	Reason     string    `json:"reason"`
}

// SweepResult summarizes one archival cascade run.
type SweepResult struct {
	Attempted int      `json:"attempted"`
	Archived  int      `json:"archived"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}
