package models

import "time"

// Entity status values. Transitions are active -> archived; a later fresh
// observation restores an archived ledger to active.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Change types for timeline entries, classified once at append time.
const (
	ChangeInitial  = "initial"
	ChangeIncrease = "increase"
	ChangeDecrease = "decrease"
)

// Location holds the geography fields received verbatim from upstream.
type Location struct {
	Locality string `json:"locality"`
	County   string `json:"county"`
	Region   string `json:"region"`
}

// IdentitySnapshot is the latest known descriptive state of an entity.
// It is overwritten on every observation and is not versioned.
type IdentitySnapshot struct {
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	OfferedBy string   `json:"offered_by"`
	Location  Location `json:"location"`
}

// ChangeMetrics describes how a timeline entry's price relates to the
// previous entry. Recorded at append time, never recomputed.
type ChangeMetrics struct {
	PreviousPrice    float64 `json:"previous_price"`
	ChangeAmount     float64 `json:"change_amount"`
	ChangePercentage float64 `json:"change_percentage"`
	IsSignificant    bool    `json:"is_significant"`
}

// TimelineEntry is one immutable price observation within a ledger.
type TimelineEntry struct {
	ObservedAt time.Time         `json:"observed_at"`
	Price      float64           `json:"price"`
	ChangeType string            `json:"change_type"`
	Source     string            `json:"source"`
	Change     ChangeMetrics     `json:"change_metrics"`
	Context    map[string]string `json:"context,omitempty"`
}

// AggregatedMetrics is derived in full from the timeline and is never
// authoritative. Absent windowed metrics are nil, not zero.
type AggregatedMetrics struct {
	MostRecentPrice float64             `json:"most_recent_price"`
	MinPrice        float64             `json:"min_price"`
	MaxPrice        float64             `json:"max_price"`
	AvgPrice        float64             `json:"avg_price"`
	Volatility      float64             `json:"volatility"`
	MovingAverages  map[string]*float64 `json:"moving_averages"`
	PercentChanges  map[string]*float64 `json:"percent_changes"`
}

// LedgerRecord is the permanent per-entity price history plus derived
// metrics. The timeline is append-only; corrections append, they never
// edit history.
type LedgerRecord struct {
	EntityID      string            `json:"entity_id"`
	NaturalKey    string            `json:"natural_key"`
	ParentID      string            `json:"parent_id"`
	Identity      IdentitySnapshot  `json:"identity_snapshot"`
	Status        string            `json:"status"`
	Timeline      []TimelineEntry   `json:"price_timeline"`
	Metrics       AggregatedMetrics `json:"aggregated_metrics"`
	CreatedAt     time.Time         `json:"created_at"`
	LastUpdated   time.Time         `json:"last_updated"`
	ArchivedAt    *time.Time        `json:"archived_at,omitempty"`
	ArchiveReason string            `json:"archive_reason,omitempty"`
}

// CurrentPrice returns the price of the last timeline entry, or 0 when the
// timeline is empty.
func (r *LedgerRecord) CurrentPrice() float64 {
	if len(r.Timeline) == 0 {
		return 0
	}
	return r.Timeline[len(r.Timeline)-1].Price
}
