package processor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hometrack/server/config"
	"hometrack/server/internal/database"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
	"hometrack/server/internal/queue"
)

func setupProcessor(t *testing.T) (*BatchProcessor, *ledger.Store) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())

	journal, err := database.NewTestDB()
	require.NoError(t, err)
	require.NoError(t, database.MigrateSchema(journal))

	cfg := &config.Config{}
	cfg.BatchProcessing.ProcessorCount = 2
	cfg.BatchProcessing.MaxRetries = 1
	cfg.BatchProcessing.RetryDelay = 0

	store := ledger.NewStore(db, []int{7, 30}, logrus.New())
	q := queue.NewObservationQueue(10, logrus.New())
	return NewBatchProcessor(journal, store, q, cfg, logrus.New()), store
}

func obs(key string, price float64) *models.Observation {
	return &models.Observation{
		NaturalKey: key,
		ParentID:   "listing-1",
		Name:       key,
		Category:   "Condominium",
		Location:   models.Location{Locality: "Temecula", County: "Riverside County", Region: "CA"},
		Price:      price,
		Source:     "stage2",
		ObservedAt: time.Now(),
	}
}

func TestProcessBatch_Accounting(t *testing.T) {
	p, _ := setupProcessor(t)
	defer p.Stop()

	err := p.ProcessBatch([]*models.Observation{
		obs("key-1", 500000),
		obs("key-2", 400000),
		obs("key-3", 0),  // no price: skipped
		{Price: 100000},  // no natural key: failed
	})
	require.NoError(t, err)

	audit, err := database.LatestRunAudit(p.journal)
	require.NoError(t, err)
	require.NotNil(t, audit)

	assert.Equal(t, 4, audit.Processed)
	assert.Equal(t, 2, audit.NewCount)
	assert.Equal(t, 0, audit.Changed)
	assert.Equal(t, 1, audit.Skipped)
	assert.NotEmpty(t, audit.FailedIDs)
}

func TestProcessBatch_UnchangedIsNoOp(t *testing.T) {
	p, store := setupProcessor(t)
	defer p.Stop()

	require.NoError(t, p.ProcessBatch([]*models.Observation{obs("key-1", 500000)}))
	require.NoError(t, p.ProcessBatch([]*models.Observation{obs("key-1", 500000)}))

	audit, err := database.LatestRunAudit(p.journal)
	require.NoError(t, err)
	require.NotNil(t, audit)
	assert.Equal(t, 1, audit.Unchanged)
	assert.Equal(t, 0, audit.NewCount)

	result, err := store.AppendIfChanged(p.ctx, obs("key-1", 500000))
	require.NoError(t, err)

	rec, err := store.GetLedger(result.EntityID)
	require.NoError(t, err)
	assert.Len(t, rec.Timeline, 1)
}

func TestProcessBatch_PriceChangeCounted(t *testing.T) {
	p, _ := setupProcessor(t)
	defer p.Stop()

	require.NoError(t, p.ProcessBatch([]*models.Observation{obs("key-1", 500000)}))
	require.NoError(t, p.ProcessBatch([]*models.Observation{obs("key-1", 510000)}))

	audit, err := database.LatestRunAudit(p.journal)
	require.NoError(t, err)
	require.NotNil(t, audit)
	assert.Equal(t, 1, audit.Changed)
}

func TestProcessor_QueueIntegration(t *testing.T) {
	p, store := setupProcessor(t)
	defer p.Stop()

	p.Start()
	p.queue.Start()
	defer p.queue.Close()

	require.NoError(t, p.queue.Push([]*models.Observation{obs("key-1", 500000)}))

	// Allow time for processing
	time.Sleep(500 * time.Millisecond)

	result, err := store.AppendIfChanged(p.ctx, obs("key-1", 500000))
	require.NoError(t, err)
	assert.False(t, result.Recorded)

	rec, err := store.GetLedger(result.EntityID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Timeline, 1)
}
