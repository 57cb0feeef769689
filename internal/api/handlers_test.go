package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hometrack/server/internal/archive"
	"hometrack/server/internal/database"
	"hometrack/server/internal/identity"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
	"hometrack/server/internal/queue"
	"hometrack/server/internal/rollup"
)

func setupRouter(t *testing.T) (*gin.Engine, *ledger.Store) {
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())

	journal, err := database.NewTestDB()
	require.NoError(t, err)
	require.NoError(t, database.MigrateSchema(journal))

	store := ledger.NewStore(db, []int{7, 30}, logrus.New())
	aggregator := rollup.NewAggregator(db, []int{7, 30}, 30, logrus.New())
	engine := archive.NewEngine(db, store, logrus.New())
	q := queue.NewObservationQueue(10, logrus.New())

	handler := NewHandler(db, journal, store, aggregator, engine, q, logrus.New())
	router := gin.New()
	SetupRoutes(router, handler)
	return router, store
}

func seedObservation(t *testing.T, store *ledger.Store, key string, price float64) string {
	result, err := store.AppendIfChanged(context.Background(), &models.Observation{
		NaturalKey: key,
		ParentID:   "listing-1",
		Name:       key,
		Category:   "Condominium",
		Location:   models.Location{Locality: "Temecula", County: "Riverside County", Region: "CA"},
		Price:      price,
		Source:     "stage2",
		ObservedAt: time.Now(),
	})
	require.NoError(t, err)
	return result.EntityID
}

func TestGetLedger(t *testing.T) {
	router, store := setupRouter(t)
	entityID := seedObservation(t, store, "community-a", 500000)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ledgers/"+entityID, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rec models.LedgerRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, entityID, rec.EntityID)
	assert.Len(t, rec.Timeline, 1)
}

func TestGetLedger_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ledgers/no-such-entity", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshRegion(t *testing.T) {
	router, store := setupRouter(t)
	seedObservation(t, store, "community-a", 500000)

	regionID, err := identity.ResolveRegion("Temecula", "Riverside County", "CA")
	require.NoError(t, err)

	// No scheduled run has happened yet; the refresh builds the rollup
	// on demand.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/regions/"+regionID+"/refresh", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rollupRec models.RegionalRollup
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rollupRec))
	assert.Equal(t, regionID, rollupRec.RegionID)
	assert.Equal(t, 1, rollupRec.CurrentActiveMetrics[models.OverallCategory].Count)

	// And the result is persisted for plain reads.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/regions/"+regionID, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshRegion_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/regions/no-such-region/refresh", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
