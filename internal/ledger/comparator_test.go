package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hometrack/server/internal/models"
)

func TestShouldRecordSnapshot_FirstObservation(t *testing.T) {
	decision := ShouldRecordSnapshot(nil, 450000)

	assert.True(t, decision.Record)
	assert.Equal(t, models.ChangeInitial, decision.ChangeType)
	assert.Equal(t, 450000.0, decision.Change.ChangeAmount)
}

func TestShouldRecordSnapshot_Unchanged(t *testing.T) {
	last := &models.TimelineEntry{Price: 450000}

	decision := ShouldRecordSnapshot(last, 450000)
	assert.False(t, decision.Record)
}

func TestShouldRecordSnapshot_Increase(t *testing.T) {
	last := &models.TimelineEntry{Price: 400000}

	decision := ShouldRecordSnapshot(last, 440000)
	assert.True(t, decision.Record)
	assert.Equal(t, models.ChangeIncrease, decision.ChangeType)
	assert.Equal(t, 400000.0, decision.Change.PreviousPrice)
	assert.Equal(t, 40000.0, decision.Change.ChangeAmount)
	assert.InDelta(t, 10, decision.Change.ChangePercentage, 0.001)
	assert.True(t, decision.Change.IsSignificant)
}

func TestShouldRecordSnapshot_Decrease(t *testing.T) {
	last := &models.TimelineEntry{Price: 400000}

	decision := ShouldRecordSnapshot(last, 396000)
	assert.True(t, decision.Record)
	assert.Equal(t, models.ChangeDecrease, decision.ChangeType)
	assert.InDelta(t, -1, decision.Change.ChangePercentage, 0.001)
	assert.False(t, decision.Change.IsSignificant)
}
