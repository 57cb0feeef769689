package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hometrack/server/internal/database"
	"hometrack/server/internal/identity"
	"hometrack/server/internal/models"
)

// ErrNoPrice marks an observation without a usable positive price. Such
// observations are skipped, never recorded as a decrease to zero.
var ErrNoPrice = errors.New("observation has no positive price")

// Store owns all mutation of ledger records. Operations for the same
// entity_id are serialized through a per-entity mutex; different entities
// proceed in parallel.
type Store struct {
	db      *database.Database
	logger  *logrus.Logger
	windows []int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// AppendResult reports what one observation did to the ledger.
type AppendResult struct {
	EntityID    string
	Recorded    bool
	ChangeType  string
	Created     bool
	Reactivated bool
}

func NewStore(db *database.Database, windows []int, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Store{
		db:      db,
		logger:  logger,
		windows: windows,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing all writes for one entity.
func (s *Store) lockFor(entityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[entityID] = lock
	}
	return lock
}

// AppendIfChanged resolves the observation's identity, consults the
// comparator, and appends a timeline entry only when the price actually
// moved. The identity snapshot is refreshed on every observation either
// way. Re-appending an unchanged price is an idempotent no-op.
func (s *Store) AppendIfChanged(ctx context.Context, obs *models.Observation) (*AppendResult, error) {
	if obs.Price <= 0 {
		return nil, ErrNoPrice
	}

	entityID, err := identity.Resolve(obs.NaturalKey)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.lockFor(entityID)
	lock.Lock()
	defer lock.Unlock()

	result := &AppendResult{EntityID: entityID}
	now := time.Now()

	rec, err := s.db.GetLiveLedger(entityID)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		// A previously archived entity observed active again resurfaces
		// under the same id with its old timeline intact.
		rec, err = s.db.RestoreLedger(entityID, now)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			result.Reactivated = true
			// The fresh sighting overrides any stale parent-archived
			// event; drop it so the sweep does not re-archive the
			// entity it just restored.
			if obs.ParentID != "" {
				if err := s.db.DeleteArchivedParent(obs.ParentID); err != nil {
					return nil, err
				}
			}
			s.logger.WithFields(logrus.Fields{
				"entity_id": entityID,
				"name":      obs.Name,
			}).Info("Reactivated archived ledger")
		}
	}

	if rec == nil {
		return s.createLedger(entityID, obs, now, result)
	}

	if err := s.db.UpdateIdentity(entityID, identityFromObservation(obs), obs.ParentID, now); err != nil {
		return nil, err
	}
	if rec.Status != models.StatusActive {
		if err := s.db.UpdateStatus(entityID, models.StatusActive, now); err != nil {
			return nil, err
		}
	}

	var last *models.TimelineEntry
	if len(rec.Timeline) > 0 {
		last = &rec.Timeline[len(rec.Timeline)-1]
	}

	decision := ShouldRecordSnapshot(last, obs.Price)
	if !decision.Record {
		return result, nil
	}

	entry := entryFromObservation(obs, decision)
	if err := s.db.AppendTimelineEntry(entityID, entry); err != nil {
		return nil, err
	}
	if _, err := s.recomputeLocked(entityID, now); err != nil {
		return nil, err
	}

	result.Recorded = true
	result.ChangeType = decision.ChangeType
	return result, nil
}

func (s *Store) createLedger(entityID string, obs *models.Observation, now time.Time, result *AppendResult) (*AppendResult, error) {
	decision := ShouldRecordSnapshot(nil, obs.Price)
	entry := entryFromObservation(obs, decision)

	rec := &models.LedgerRecord{
		EntityID:    entityID,
		NaturalKey:  obs.NaturalKey,
		ParentID:    obs.ParentID,
		Identity:    identityFromObservation(obs),
		Status:      models.StatusActive,
		CreatedAt:   now,
		LastUpdated: now,
	}
	rec.Metrics = ComputeMetrics([]models.TimelineEntry{entry}, s.windows)

	if err := s.db.CreateLedger(rec); err != nil {
		return nil, err
	}
	if err := s.db.AppendTimelineEntry(entityID, entry); err != nil {
		return nil, err
	}

	result.Recorded = true
	result.Created = true
	result.ChangeType = models.ChangeInitial
	return result, nil
}

// GetLedger loads a ledger by id, checking the live store first and falling
// back to the archive.
func (s *Store) GetLedger(entityID string) (*models.LedgerRecord, error) {
	rec, err := s.db.GetLiveLedger(entityID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	return s.db.GetArchivedLedger(entityID)
}

// RecomputeAggregates rebuilds an entity's derived metrics from its full
// timeline and persists them.
func (s *Store) RecomputeAggregates(entityID string) (*models.AggregatedMetrics, error) {
	lock := s.lockFor(entityID)
	lock.Lock()
	defer lock.Unlock()
	return s.recomputeLocked(entityID, time.Now())
}

func (s *Store) recomputeLocked(entityID string, now time.Time) (*models.AggregatedMetrics, error) {
	rec, err := s.db.GetLiveLedger(entityID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	metrics := ComputeMetrics(rec.Timeline, s.windows)
	if err := s.db.UpdateMetrics(entityID, metrics, now); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// ArchiveEntity relocates a live ledger into archive storage. The copy is
// written before the live record is deleted so a crash between the two
// steps duplicates instead of losing; a retry then sees no live record and
// is a no-op. Returns false when the entity has no live ledger.
func (s *Store) ArchiveEntity(ctx context.Context, entityID string, archivedAt time.Time, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lock := s.lockFor(entityID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.db.GetLiveLedger(entityID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if err := s.db.CopyLedgerToArchive(rec, archivedAt, reason); err != nil {
		return false, err
	}
	if err := s.db.DeleteLiveLedger(entityID); err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"reason":    reason,
	}).Info("Archived ledger")
	return true, nil
}

func identityFromObservation(obs *models.Observation) models.IdentitySnapshot {
	return models.IdentitySnapshot{
		Name:      obs.Name,
		Category:  obs.Category,
		OfferedBy: obs.OfferedBy,
		Location:  obs.Location,
	}
}

func entryFromObservation(obs *models.Observation, decision SnapshotDecision) models.TimelineEntry {
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	return models.TimelineEntry{
		ObservedAt: observedAt,
		Price:      obs.Price,
		ChangeType: decision.ChangeType,
		Source:     obs.Source,
		Change:     decision.Change,
		Context:    obs.Context,
	}
}
