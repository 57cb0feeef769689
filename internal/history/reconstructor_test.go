package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hometrack/server/internal/models"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func record(id, category string, entries ...models.TimelineEntry) models.LedgerRecord {
	return models.LedgerRecord{
		EntityID: id,
		Identity: models.IdentitySnapshot{Category: category},
		Status:   models.StatusActive,
		Timeline: entries,
	}
}

func entry(d string, price float64) models.TimelineEntry {
	return models.TimelineEntry{ObservedAt: day(d), Price: price}
}

func TestReconstruct_ForwardFill(t *testing.T) {
	// A has one entry on day 1; B defines later days in the union. A must
	// appear active at price 100 on every day through the latest.
	ledgers := []models.LedgerRecord{
		record("A", "Single Family Residence", entry("2024-01-01", 100)),
		record("B", "Single Family Residence",
			entry("2024-01-02", 200),
			entry("2024-01-05", 220),
		),
	}

	daily := Reconstruct(ledgers)
	require.Len(t, daily, 3) // union days: 01, 02, 05

	assert.Equal(t, "2024-01-01", daily[0].Day)
	assert.Equal(t, 1, daily[0].Categories[models.OverallCategory].Count)
	assert.InDelta(t, 100, daily[0].Categories[models.OverallCategory].AvgPrice, 0.001)

	assert.Equal(t, "2024-01-02", daily[1].Day)
	assert.Equal(t, 2, daily[1].Categories[models.OverallCategory].Count)
	assert.InDelta(t, 150, daily[1].Categories[models.OverallCategory].AvgPrice, 0.001)

	assert.Equal(t, "2024-01-05", daily[2].Day)
	assert.Equal(t, 2, daily[2].Categories[models.OverallCategory].Count)
	assert.InDelta(t, 160, daily[2].Categories[models.OverallCategory].AvgPrice, 0.001)
}

func TestReconstruct_NoSynthesizedDates(t *testing.T) {
	ledgers := []models.LedgerRecord{
		record("A", "", entry("2024-01-01", 100), entry("2024-01-10", 120)),
	}

	daily := Reconstruct(ledgers)
	require.Len(t, daily, 2)
	assert.Equal(t, "2024-01-01", daily[0].Day)
	assert.Equal(t, "2024-01-10", daily[1].Day)
}

func TestReconstruct_PerCategory(t *testing.T) {
	ledgers := []models.LedgerRecord{
		record("A", "Single Family Residence", entry("2024-01-01", 100)),
		record("B", "Condominium", entry("2024-01-01", 300)),
	}

	daily := Reconstruct(ledgers)
	require.Len(t, daily, 1)

	categories := daily[0].Categories
	assert.InDelta(t, 100, categories["Single Family Residence"].AvgPrice, 0.001)
	assert.InDelta(t, 300, categories["Condominium"].AvgPrice, 0.001)
	assert.InDelta(t, 200, categories[models.OverallCategory].AvgPrice, 0.001)
	assert.Equal(t, 2, categories[models.OverallCategory].Count)
}

func TestReconstruct_ArchivedStopsContributing(t *testing.T) {
	archivedAt := day("2024-01-03")
	archived := record("A", "Condominium", entry("2024-01-01", 100))
	archived.Status = models.StatusArchived
	archived.ArchivedAt = &archivedAt

	ledgers := []models.LedgerRecord{
		archived,
		record("B", "Condominium",
			entry("2024-01-02", 200),
			entry("2024-01-05", 210),
		),
	}

	daily := Reconstruct(ledgers)
	require.Len(t, daily, 3)

	// Day 2 is on or before the archive date: both entities count.
	assert.Equal(t, 2, daily[1].Categories[models.OverallCategory].Count)

	// Day 5 is after: only B remains.
	assert.Equal(t, "2024-01-05", daily[2].Day)
	assert.Equal(t, 1, daily[2].Categories[models.OverallCategory].Count)
	assert.InDelta(t, 210, daily[2].Categories[models.OverallCategory].AvgPrice, 0.001)
}

func TestReconstruct_Empty(t *testing.T) {
	assert.Nil(t, Reconstruct(nil))
	assert.Nil(t, Reconstruct([]models.LedgerRecord{record("A", "")}))
}
