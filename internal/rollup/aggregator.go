package rollup

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"hometrack/server/internal/database"
	"hometrack/server/internal/history"
	"hometrack/server/internal/identity"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
)

// Aggregator rebuilds regional rollups from the ledger stores. Rollups are
// recomputed from scratch on every run rather than patched incrementally,
// so they can never drift from the ledgers.
type Aggregator struct {
	db            *database.Database
	logger        *logrus.Logger
	windows       []int
	retentionDays int
}

func NewAggregator(db *database.Database, windows []int, retentionDays int, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Aggregator{
		db:            db,
		logger:        logger,
		windows:       windows,
		retentionDays: retentionDays,
	}
}

type regionGroup struct {
	location models.Location
	ledgers  []models.LedgerRecord
}

// RunAggregation rebuilds every region's rollup. Archived ledgers are
// included because they still contributed to past market days. Returns the
// number of regions aggregated.
func (a *Aggregator) RunAggregation(ctx context.Context) (int, error) {
	groups, err := a.groupByRegion()
	if err != nil {
		return 0, err
	}

	updated := 0
	for regionID, group := range groups {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if err := a.buildAndPersist(regionID, group); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"region_id": regionID,
				"locality":  group.location.Locality,
			}).Error("Failed to build regional rollup")
			continue
		}
		updated++
	}
	return updated, nil
}

// BuildRegionalSnapshot recomputes and persists one region's rollup, then
// returns the stored record (including merged daily averages). Returns nil
// when no ledger belongs to the region.
func (a *Aggregator) BuildRegionalSnapshot(ctx context.Context, regionID string) (*models.RegionalRollup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups, err := a.groupByRegion()
	if err != nil {
		return nil, err
	}
	group, ok := groups[regionID]
	if !ok {
		return a.db.GetRollup(regionID)
	}
	if err := a.buildAndPersist(regionID, group); err != nil {
		return nil, err
	}
	return a.db.GetRollup(regionID)
}

func (a *Aggregator) groupByRegion() (map[string]*regionGroup, error) {
	live, err := a.db.ListLiveLedgers()
	if err != nil {
		return nil, err
	}
	archived, err := a.db.ListArchivedLedgers()
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*regionGroup)
	for _, rec := range append(live, archived...) {
		loc := rec.Identity.Location
		regionID, err := identity.ResolveRegion(loc.Locality, loc.County, loc.Region)
		if err != nil {
			// No usable geography; the ledger still exists, it just has no
			// regional rollup to join.
			continue
		}
		group, ok := groups[regionID]
		if !ok {
			group = &regionGroup{location: loc}
			groups[regionID] = group
		}
		group.ledgers = append(group.ledgers, rec)
	}
	return groups, nil
}

func (a *Aggregator) buildAndPersist(regionID string, group *regionGroup) error {
	daily := history.Reconstruct(group.ledgers)

	rollup := &models.RegionalRollup{
		RegionID:             regionID,
		Location:             group.location,
		CurrentActiveMetrics: a.currentMetrics(group.ledgers, daily),
		LastSnapshotDate:     time.Now(),
	}

	if err := a.db.SaveRollup(rollup); err != nil {
		return err
	}

	// Merge daily rows by (day, category) key; the store preserves
	// previously written listing counts.
	start := len(daily) - a.retentionDays
	if start < 0 {
		start = 0
	}
	for _, row := range daily[start:] {
		for category, cd := range row.Categories {
			avg := cd.AvgPrice
			if err := a.db.UpsertDailyAverage(regionID, row.Day, category, &avg, cd.Count); err != nil {
				return err
			}
		}
	}
	return a.db.PruneDailyAverages(regionID, a.retentionDays)
}

// currentMetrics computes per-category metrics over active entities'
// current prices; windowed metrics come from the reconstructed per-category
// daily average series.
func (a *Aggregator) currentMetrics(ledgers []models.LedgerRecord, daily []history.DailyAggregate) map[string]models.CategoryMetrics {
	prices := make(map[string][]float64)
	for i := range ledgers {
		rec := &ledgers[i]
		if rec.Status != models.StatusActive {
			continue
		}
		price := rec.CurrentPrice()
		if price <= 0 {
			continue
		}
		prices[models.OverallCategory] = append(prices[models.OverallCategory], price)
		if rec.Identity.Category != "" {
			prices[rec.Identity.Category] = append(prices[rec.Identity.Category], price)
		}
	}

	categories := make([]string, 0, len(prices))
	for category := range prices {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	metrics := make(map[string]models.CategoryMetrics, len(categories))
	for _, category := range categories {
		series := categoryDailySeries(daily, category)
		cm := models.CategoryMetrics{
			Count:          len(prices[category]),
			MovingAverages: make(map[string]*float64, len(a.windows)),
			PercentChanges: make(map[string]*float64, len(a.windows)),
		}
		if len(prices[category]) > 0 {
			var sum float64
			for _, p := range prices[category] {
				sum += p
			}
			avg := sum / float64(len(prices[category]))
			cm.AvgPrice = &avg
		}
		for _, window := range a.windows {
			cm.MovingAverages[ledger.AverageKey(window)] = ledger.MovingAverage(series, window)
			cm.PercentChanges[ledger.ChangeKey(window)] = ledger.PercentChange(series, window)
		}
		metrics[category] = cm
	}
	return metrics
}

func categoryDailySeries(daily []history.DailyAggregate, category string) []float64 {
	var series []float64
	for _, row := range daily {
		if cd, ok := row.Categories[category]; ok {
			series = append(series, cd.AvgPrice)
		}
	}
	return series
}
