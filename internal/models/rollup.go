package models

import "time"

// OverallCategory is the pseudo-category aggregating every entity in a
// region regardless of its accommodation category.
const OverallCategory = "overall"

// CategoryMetrics holds current rollup metrics for one property category
// within a region, computed over active entities only.
type CategoryMetrics struct {
	Count          int                 `json:"count"`
	AvgPrice       *float64            `json:"avg_price"`
	MovingAverages map[string]*float64 `json:"moving_averages"`
	PercentChanges map[string]*float64 `json:"percent_changes"`
}

// DailyAverage is one per-day historical row in a regional rollup. Averages
// and counts are keyed by category, including the overall pseudo-category.
// Listing counts are write-once per day: recomputation may overwrite the
// averages but preserves previously persisted counts.
type DailyAverage struct {
	Day      string              `json:"date"`
	Averages map[string]*float64 `json:"averages"`
	Counts   map[string]int      `json:"listing_counts"`
}

// RegionalRollup is a recomputed, non-authoritative aggregate over all
// ledgers sharing one geography tuple.
type RegionalRollup struct {
	RegionID                string                     `json:"region_id"`
	Location                Location                   `json:"location"`
	CurrentActiveMetrics    map[string]CategoryMetrics `json:"current_active_metrics"`
	HistoricalDailyAverages []DailyAverage             `json:"historical_daily_averages"`
	LastSnapshotDate        time.Time                  `json:"last_snapshot_date"`
}
