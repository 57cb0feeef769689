package ledger

import (
	"fmt"
	"sort"

	"hometrack/server/internal/models"
)

// DayLayout is the calendar-day key format used across aggregation.
const DayLayout = "2006-01-02"

// DailyPrice is the last observed price for one calendar day.
type DailyPrice struct {
	Day   string
	Price float64
}

// DailyClosingPrices collapses a timeline into one price per calendar day
// (the chronologically last entry wins), sorted by day ascending. Timelines
// are event-sampled, so most days have no row at all.
func DailyClosingPrices(entries []models.TimelineEntry) []DailyPrice {
	byDay := make(map[string]float64)
	for _, entry := range entries {
		byDay[entry.ObservedAt.Format(DayLayout)] = entry.Price
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	prices := make([]DailyPrice, 0, len(days))
	for _, day := range days {
		prices = append(prices, DailyPrice{Day: day, Price: byDay[day]})
	}
	return prices
}

// MovingAverage averages the most recent window distinct daily prices. With
// fewer than window days of history it averages over all available days
// rather than failing; with no history it is absent.
func MovingAverage(prices []float64, window int) *float64 {
	if len(prices) == 0 || window <= 0 {
		return nil
	}
	start := len(prices) - window
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, p := range prices[start:] {
		sum += p
	}
	avg := sum / float64(len(prices)-start)
	return &avg
}

// PercentChange compares the latest daily price against the one window
// positions earlier. It needs at least window+1 data points; otherwise the
// metric is absent, never zero.
func PercentChange(prices []float64, window int) *float64 {
	if window <= 0 || len(prices) < window+1 {
		return nil
	}
	previous := prices[len(prices)-1-window]
	if previous <= 0 {
		return nil
	}
	current := prices[len(prices)-1]
	change := (current - previous) / previous * 100
	return &change
}

// Volatility is the mean absolute per-step percent change over the series.
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var sum float64
	var n int
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			change := (prices[i] - prices[i-1]) / prices[i-1] * 100
			if change < 0 {
				change = -change
			}
			sum += change
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AverageKey and ChangeKey name windowed metrics the way rollups and
// ledgers expose them, e.g. "7_day_average" and "30_day_change".
func AverageKey(window int) string { return fmt.Sprintf("%d_day_average", window) }

func ChangeKey(window int) string { return fmt.Sprintf("%d_day_change", window) }

// ComputeMetrics derives the full aggregate block from a chronologically
// sorted timeline. Everything here is recomputable; nothing is
// authoritative.
func ComputeMetrics(entries []models.TimelineEntry, windows []int) models.AggregatedMetrics {
	metrics := models.AggregatedMetrics{
		MovingAverages: make(map[string]*float64, len(windows)),
		PercentChanges: make(map[string]*float64, len(windows)),
	}

	daily := DailyClosingPrices(entries)
	prices := make([]float64, len(daily))
	for i, dp := range daily {
		prices[i] = dp.Price
	}

	if len(entries) > 0 {
		metrics.MostRecentPrice = entries[len(entries)-1].Price
		metrics.MinPrice = entries[0].Price
		metrics.MaxPrice = entries[0].Price
		var sum float64
		for _, entry := range entries {
			if entry.Price < metrics.MinPrice {
				metrics.MinPrice = entry.Price
			}
			if entry.Price > metrics.MaxPrice {
				metrics.MaxPrice = entry.Price
			}
			sum += entry.Price
		}
		metrics.AvgPrice = sum / float64(len(entries))
	}

	metrics.Volatility = Volatility(prices)
	for _, window := range windows {
		metrics.MovingAverages[AverageKey(window)] = MovingAverage(prices, window)
		metrics.PercentChanges[ChangeKey(window)] = PercentChange(prices, window)
	}
	return metrics
}
