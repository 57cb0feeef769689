package ledger

import "hometrack/server/internal/models"

// Price moves of at least this magnitude (percent) are flagged significant.
const significantChangePct = 5.0

// SnapshotDecision is the comparator's verdict for one fresh observation.
type SnapshotDecision struct {
	Record     bool
	ChangeType string
	Change     models.ChangeMetrics
}

// ShouldRecordSnapshot decides whether a fresh price warrants a new timeline
// entry. Unchanged prices are no-ops: the ledger grows with actual market
// activity, not with re-scrape frequency. Zero and negative prices never
// reach this point; callers treat them as "no observation".
func ShouldRecordSnapshot(last *models.TimelineEntry, newPrice float64) SnapshotDecision {
	if last == nil {
		return SnapshotDecision{
			Record:     true,
			ChangeType: models.ChangeInitial,
			Change: models.ChangeMetrics{
				ChangeAmount: newPrice,
			},
		}
	}

	if newPrice == last.Price {
		return SnapshotDecision{Record: false}
	}

	changeType := models.ChangeIncrease
	if newPrice < last.Price {
		changeType = models.ChangeDecrease
	}

	change := models.ChangeMetrics{
		PreviousPrice: last.Price,
		ChangeAmount:  newPrice - last.Price,
	}
	if last.Price > 0 {
		change.ChangePercentage = change.ChangeAmount / last.Price * 100
	}
	pct := change.ChangePercentage
	if pct < 0 {
		pct = -pct
	}
	change.IsSignificant = pct >= significantChangePct

	return SnapshotDecision{
		Record:     true,
		ChangeType: changeType,
		Change:     change,
	}
}
