package archive

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"hometrack/server/internal/database"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
)

// DefaultReason is stamped on cascaded ledgers when the upstream event
// carries no reason of its own.
const DefaultReason = "community archived"

// Engine enforces the cascading archival invariant: when a parent listing
// is retired, every ledger it owns moves from the live store into archive
// storage. The same operation serves two call sites, an immediate trigger
// after upstream archive events and a scheduled consistency sweep.
type Engine struct {
	db      *database.Database
	ledgers *ledger.Store
	logger  *logrus.Logger
}

func NewEngine(db *database.Database, ledgers *ledger.Store, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Engine{db: db, ledgers: ledgers, logger: logger}
}

// HandleArchivedParents records the events and cascades each parent's owned
// ledgers into archive storage. A failure archiving one entity never aborts
// the batch; failed ids are reported in the result. Running it again for
// the same parents is a no-op, since entities already relocated have no
// live ledger left to archive.
func (e *Engine) HandleArchivedParents(ctx context.Context, events []models.ArchiveEvent) models.SweepResult {
	var result models.SweepResult

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			e.logger.WithError(err).Warn("Archival cascade aborted between entities")
			return result
		}

		if event.ArchivedAt.IsZero() {
			event.ArchivedAt = time.Now()
		}
		if event.Reason == "" {
			event.Reason = DefaultReason
		}

		// Record the event first so the scheduled sweep can finish the
		// cascade if this run dies partway through.
		if err := e.db.UpsertArchivedParent(event); err != nil {
			e.logger.WithError(err).WithField("parent_id", event.ParentID).
				Error("Failed to record archived parent")
			continue
		}

		e.cascadeParent(ctx, event, &result)
	}
	return result
}

// RunSweep finds every ledger whose parent is archived but which is still
// in the live store, and finishes the cascade for it. It catches cases
// where the immediate trigger was missed or failed.
func (e *Engine) RunSweep(ctx context.Context) (models.SweepResult, error) {
	var result models.SweepResult

	pending, err := e.db.ListArchivedParentsWithLiveLedgers()
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	e.logger.WithField("parents", len(pending)).Info("Sweep found parents with live ledgers")
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if event.Reason == "" {
			event.Reason = DefaultReason
		}
		if event.ArchivedAt.IsZero() {
			event.ArchivedAt = time.Now()
		}
		e.cascadeParent(ctx, event, &result)
	}
	return result, nil
}

func (e *Engine) cascadeParent(ctx context.Context, event models.ArchiveEvent, result *models.SweepResult) {
	entityIDs, err := e.db.ListLiveEntityIDsByParent(event.ParentID)
	if err != nil {
		e.logger.WithError(err).WithField("parent_id", event.ParentID).
			Error("Failed to list owned entities")
		return
	}

	for _, entityID := range entityIDs {
		if err := ctx.Err(); err != nil {
			return
		}
		result.Attempted++

		archived, err := e.ledgers.ArchiveEntity(ctx, entityID, event.ArchivedAt, event.Reason)
		if err != nil {
			result.FailedIDs = append(result.FailedIDs, entityID)
			e.logger.WithError(err).WithFields(logrus.Fields{
				"entity_id": entityID,
				"parent_id": event.ParentID,
			}).Error("Failed to archive entity")
			continue
		}
		if archived {
			result.Archived++
		}
	}
}

// CleanupArchived deletes archived ledgers older than the retention
// horizon. Returns the number of ledgers removed.
func (e *Engine) CleanupArchived(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := e.db.DeleteArchivedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.WithField("removed", removed).Info("Cleaned up old archived ledgers")
	}
	return removed, nil
}
