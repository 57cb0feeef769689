package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hometrack/server/internal/archive"
	"hometrack/server/internal/database"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
	"hometrack/server/internal/queue"
	"hometrack/server/internal/rollup"
)

type Handler struct {
	db         *database.Database
	journal    *gorm.DB
	ledgers    *ledger.Store
	aggregator *rollup.Aggregator
	engine     *archive.Engine
	queue      *queue.ObservationQueue
	logger     *logrus.Logger
}

func NewHandler(db *database.Database, journal *gorm.DB, ledgers *ledger.Store, aggregator *rollup.Aggregator, engine *archive.Engine, q *queue.ObservationQueue, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		db:         db,
		journal:    journal,
		ledgers:    ledgers,
		aggregator: aggregator,
		engine:     engine,
		queue:      q,
		logger:     logger,
	}
}

// GetLedger returns the full ledger with aggregates for one entity,
// checking the live store first and falling back to the archive.
func (h *Handler) GetLedger(c *gin.Context) {
	entityID := c.Param("entity_id")

	rec, err := h.ledgers.GetLedger(entityID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get ledger")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get ledger"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ledger not found"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// GetRegion returns the latest rollup for one region.
func (h *Handler) GetRegion(c *gin.Context) {
	regionID := c.Param("region_id")

	rollupRec, err := h.db.GetRollup(regionID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get regional rollup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get regional rollup"})
		return
	}
	if rollupRec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}

	c.JSON(http.StatusOK, rollupRec)
}

// RefreshRegion recomputes one region's rollup from the ledgers on demand
// and returns the fresh record, without waiting for the next scheduled run.
func (h *Handler) RefreshRegion(c *gin.Context) {
	regionID := c.Param("region_id")

	rollupRec, err := h.aggregator.BuildRegionalSnapshot(c.Request.Context(), regionID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to refresh regional rollup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh regional rollup"})
		return
	}
	if rollupRec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}

	c.JSON(http.StatusOK, rollupRec)
}

// ListRegions returns all rollup summaries without daily averages.
func (h *Handler) ListRegions(c *gin.Context) {
	rollups, err := h.db.ListRollups()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list regions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list regions"})
		return
	}

	c.JSON(http.StatusOK, rollups)
}

// IngestObservations accepts a batch of normalized entity observations from
// upstream extraction and queues it for processing.
func (h *Handler) IngestObservations(c *gin.Context) {
	var batch []*models.Observation
	if err := c.ShouldBindJSON(&batch); err != nil {
		h.logger.WithError(err).Error("Failed to parse observation batch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid observation batch"})
		return
	}
	if len(batch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty observation batch"})
		return
	}

	if err := h.queue.Push(batch); err != nil {
		h.logger.WithError(err).Error("Failed to queue observation batch")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"received": len(batch),
	})
}

// HandleArchiveEvents accepts parent-archived events and runs the cascade
// synchronously, returning the run summary.
func (h *Handler) HandleArchiveEvents(c *gin.Context) {
	var events []models.ArchiveEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		h.logger.WithError(err).Error("Failed to parse archive events")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid archive events"})
		return
	}

	result := h.engine.HandleArchivedParents(c.Request.Context(), events)
	c.JSON(http.StatusOK, result)
}

// RunSweep triggers the archival consistency sweep.
func (h *Handler) RunSweep(c *gin.Context) {
	result, err := h.engine.RunSweep(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Archival sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Archival sweep failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetLatestRun returns the most recent ingest run audit.
func (h *Handler) GetLatestRun(c *gin.Context) {
	audit, err := database.LatestRunAudit(h.journal)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get latest run audit")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest run audit"})
		return
	}
	if audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No runs recorded yet"})
		return
	}

	c.JSON(http.StatusOK, audit)
}
