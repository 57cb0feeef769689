// Package history rebuilds day-by-day market state from sparse,
// event-sampled ledgers. Timelines only carry entries when a price changed,
// so a naive "entries dated exactly that day" average would undercount
// active inventory on quiet days. Forward-fill treats the last observed
// price as the effective price for every later day until it is superseded
// or the entity is archived.
package history

import (
	"sort"

	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
)

// CategoryDay aggregates the entities active in one category on one day.
type CategoryDay struct {
	AvgPrice float64
	Count    int
}

// DailyAggregate is the reconstructed market state for one calendar day,
// keyed by property category plus the overall pseudo-category.
type DailyAggregate struct {
	Day        string
	Categories map[string]CategoryDay
}

// Reconstruct produces one aggregate row per day, per category, over the
// given ledger set. Rows exist only for dates present in at least one
// timeline; days with zero observations anywhere are never synthesized.
// Archived entities contribute through their archive date and no further.
func Reconstruct(ledgers []models.LedgerRecord) []DailyAggregate {
	daySet := make(map[string]struct{})
	dailies := make([][]ledger.DailyPrice, len(ledgers))
	for i := range ledgers {
		dailies[i] = ledger.DailyClosingPrices(ledgers[i].Timeline)
		for _, dp := range dailies[i] {
			daySet[dp.Day] = struct{}{}
		}
	}
	if len(daySet) == 0 {
		return nil
	}

	days := make([]string, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	sort.Strings(days)

	type sums struct {
		total float64
		count int
	}
	perDay := make(map[string]map[string]*sums, len(days))
	for _, day := range days {
		perDay[day] = make(map[string]*sums)
	}

	add := func(day, category string, price float64) {
		s, ok := perDay[day][category]
		if !ok {
			s = &sums{}
			perDay[day][category] = s
		}
		s.total += price
		s.count++
	}

	for i := range ledgers {
		rec := &ledgers[i]
		series := dailies[i]
		if len(series) == 0 {
			continue
		}

		archiveDay := ""
		if rec.ArchivedAt != nil {
			archiveDay = rec.ArchivedAt.Format(ledger.DayLayout)
		}

		idx := -1
		for _, day := range days {
			for idx+1 < len(series) && series[idx+1].Day <= day {
				idx++
			}
			if idx < 0 {
				continue // not yet active on this day
			}
			if archiveDay != "" && day > archiveDay {
				break // archived entities stop contributing after archive
			}

			price := series[idx].Price
			add(day, models.OverallCategory, price)
			if rec.Identity.Category != "" {
				add(day, rec.Identity.Category, price)
			}
		}
	}

	aggregates := make([]DailyAggregate, 0, len(days))
	for _, day := range days {
		categories := make(map[string]CategoryDay, len(perDay[day]))
		for category, s := range perDay[day] {
			categories[category] = CategoryDay{
				AvgPrice: s.total / float64(s.count),
				Count:    s.count,
			}
		}
		if len(categories) == 0 {
			continue
		}
		aggregates = append(aggregates, DailyAggregate{Day: day, Categories: categories})
	}
	return aggregates
}
