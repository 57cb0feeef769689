package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hometrack/server/internal/models"
)

const timeLayout = time.RFC3339Nano

// Database wraps the sqlite store holding the four logical collections:
// live ledgers, archived ledgers, regional rollups and the archived-parent
// event log.
type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) GetDB() *sql.DB {
	return d.db
}

// CreateLedger inserts a fresh ledger record row. Timeline entries are
// appended separately via AppendTimelineEntry.
func (d *Database) CreateLedger(rec *models.LedgerRecord) error {
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO live_ledgers
			(entity_id, natural_key, parent_id, name, category, offered_by,
			 locality, county, region, status, metrics, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityID, rec.NaturalKey, rec.ParentID,
		rec.Identity.Name, rec.Identity.Category, rec.Identity.OfferedBy,
		rec.Identity.Location.Locality, rec.Identity.Location.County, rec.Identity.Location.Region,
		rec.Status, string(metricsJSON),
		rec.CreatedAt.Format(timeLayout), rec.LastUpdated.Format(timeLayout),
	)
	return err
}

// AppendTimelineEntry appends one immutable entry to an entity's timeline.
func (d *Database) AppendTimelineEntry(entityID string, entry models.TimelineEntry) error {
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO timeline_entries
			(entity_id, observed_at, price, change_type, source,
			 previous_price, change_amount, change_percentage, is_significant, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entityID, entry.ObservedAt.Format(timeLayout), entry.Price, entry.ChangeType, entry.Source,
		entry.Change.PreviousPrice, entry.Change.ChangeAmount, entry.Change.ChangePercentage,
		entry.Change.IsSignificant, string(contextJSON),
	)
	return err
}

// UpdateIdentity overwrites the descriptive snapshot of a live ledger. The
// snapshot is not versioned; every observation refreshes it.
func (d *Database) UpdateIdentity(entityID string, identity models.IdentitySnapshot, parentID string, lastUpdated time.Time) error {
	_, err := d.db.Exec(`
		UPDATE live_ledgers
		SET name = ?, category = ?, offered_by = ?,
		    locality = ?, county = ?, region = ?,
		    parent_id = ?, last_updated = ?
		WHERE entity_id = ?`,
		identity.Name, identity.Category, identity.OfferedBy,
		identity.Location.Locality, identity.Location.County, identity.Location.Region,
		parentID, lastUpdated.Format(timeLayout), entityID,
	)
	return err
}

// UpdateMetrics persists recomputed aggregate metrics for a live ledger.
func (d *Database) UpdateMetrics(entityID string, metrics models.AggregatedMetrics, lastUpdated time.Time) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = d.db.Exec(`
		UPDATE live_ledgers SET metrics = ?, last_updated = ? WHERE entity_id = ?`,
		string(metricsJSON), lastUpdated.Format(timeLayout), entityID,
	)
	return err
}

// UpdateStatus flips a live ledger's status.
func (d *Database) UpdateStatus(entityID, status string, lastUpdated time.Time) error {
	_, err := d.db.Exec(`
		UPDATE live_ledgers SET status = ?, last_updated = ? WHERE entity_id = ?`,
		status, lastUpdated.Format(timeLayout), entityID,
	)
	return err
}

// GetLiveLedger loads one ledger with its full timeline sorted by
// observation time. Returns nil when the entity has no live ledger.
func (d *Database) GetLiveLedger(entityID string) (*models.LedgerRecord, error) {
	row := d.db.QueryRow(`
		SELECT entity_id, natural_key, parent_id, name, category, offered_by,
		       locality, county, region, status, metrics, created_at, last_updated
		FROM live_ledgers
		WHERE entity_id = ?`, entityID)

	rec, err := scanLedger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Timeline, err = d.getTimeline("timeline_entries", entityID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLiveLedgers loads every live ledger including timelines.
func (d *Database) ListLiveLedgers() ([]models.LedgerRecord, error) {
	return d.listLedgers(`
		SELECT entity_id, natural_key, parent_id, name, category, offered_by,
		       locality, county, region, status, metrics, created_at, last_updated
		FROM live_ledgers`, "timeline_entries", false)
}

// ListLiveEntityIDsByParent returns the ids of live ledgers owned by a parent.
func (d *Database) ListLiveEntityIDsByParent(parentID string) ([]string, error) {
	rows, err := d.db.Query(`SELECT entity_id FROM live_ledgers WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteLiveLedger removes a ledger from the live store. Timeline entries
// cascade via the foreign key.
func (d *Database) DeleteLiveLedger(entityID string) error {
	_, err := d.db.Exec(`DELETE FROM live_ledgers WHERE entity_id = ?`, entityID)
	return err
}

// CopyLedgerToArchive writes a full ledger copy plus archive metadata into
// the archive store. The copy is idempotent: re-archiving the same entity
// replaces the previous archive copy instead of duplicating it. The caller
// deletes the live record only after this returns, so a crash between the
// two steps never loses data.
func (d *Database) CopyLedgerToArchive(rec *models.LedgerRecord, archivedAt time.Time, reason string) error {
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO archived_ledgers
			(entity_id, natural_key, parent_id, name, category, offered_by,
			 locality, county, region, status, metrics, created_at, last_updated,
			 archived_at, archive_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityID, rec.NaturalKey, rec.ParentID,
		rec.Identity.Name, rec.Identity.Category, rec.Identity.OfferedBy,
		rec.Identity.Location.Locality, rec.Identity.Location.County, rec.Identity.Location.Region,
		models.StatusArchived, string(metricsJSON),
		rec.CreatedAt.Format(timeLayout), rec.LastUpdated.Format(timeLayout),
		archivedAt.Format(timeLayout), reason,
	)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(`DELETE FROM archived_timeline_entries WHERE entity_id = ?`, rec.EntityID); err != nil {
		return err
	}

	for _, entry := range rec.Timeline {
		contextJSON, err := json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO archived_timeline_entries
				(entity_id, observed_at, price, change_type, source,
				 previous_price, change_amount, change_percentage, is_significant, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.EntityID, entry.ObservedAt.Format(timeLayout), entry.Price, entry.ChangeType, entry.Source,
			entry.Change.PreviousPrice, entry.Change.ChangeAmount, entry.Change.ChangePercentage,
			entry.Change.IsSignificant, string(contextJSON),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetArchivedLedger loads one ledger from the archive store, or nil.
func (d *Database) GetArchivedLedger(entityID string) (*models.LedgerRecord, error) {
	row := d.db.QueryRow(`
		SELECT entity_id, natural_key, parent_id, name, category, offered_by,
		       locality, county, region, status, metrics, created_at, last_updated,
		       archived_at, archive_reason
		FROM archived_ledgers
		WHERE entity_id = ?`, entityID)

	rec, err := scanArchivedLedger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Timeline, err = d.getTimeline("archived_timeline_entries", entityID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListArchivedLedgers loads every archived ledger including timelines.
func (d *Database) ListArchivedLedgers() ([]models.LedgerRecord, error) {
	return d.listLedgers(`
		SELECT entity_id, natural_key, parent_id, name, category, offered_by,
		       locality, county, region, status, metrics, created_at, last_updated,
		       archived_at, archive_reason
		FROM archived_ledgers`, "archived_timeline_entries", true)
}

// DeleteArchivedLedger removes one ledger from the archive store.
func (d *Database) DeleteArchivedLedger(entityID string) error {
	_, err := d.db.Exec(`DELETE FROM archived_ledgers WHERE entity_id = ?`, entityID)
	return err
}

// DeleteArchivedBefore removes archived ledgers whose archive date is older
// than the cutoff. Returns the number of ledgers removed.
func (d *Database) DeleteArchivedBefore(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM archived_ledgers WHERE archived_at < ?`,
		cutoff.Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RestoreLedger moves an archived ledger back into the live store with
// status active, preserving the existing timeline contiguously. The archive
// copy is removed once the live copy exists.
func (d *Database) RestoreLedger(entityID string, now time.Time) (*models.LedgerRecord, error) {
	rec, err := d.GetArchivedLedger(entityID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	rec.Status = models.StatusActive
	rec.ArchivedAt = nil
	rec.ArchiveReason = ""
	rec.LastUpdated = now

	if err := d.CreateLedger(rec); err != nil {
		return nil, err
	}
	for _, entry := range rec.Timeline {
		if err := d.AppendTimelineEntry(entityID, entry); err != nil {
			return nil, err
		}
	}
	if err := d.DeleteArchivedLedger(entityID); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpsertArchivedParent records an upstream parent-archived event. The event
// log feeds the scheduled sweep, which catches cascades the immediate
// trigger missed.
func (d *Database) UpsertArchivedParent(event models.ArchiveEvent) error {
	_, err := d.db.Exec(`
		INSERT INTO archived_parents (parent_id, archived_at, reason)
		VALUES (?, ?, ?)
		ON CONFLICT(parent_id) DO UPDATE SET archived_at = excluded.archived_at, reason = excluded.reason`,
		event.ParentID, event.ArchivedAt.Format(timeLayout), event.Reason,
	)
	return err
}

// DeleteArchivedParent removes a parent from the archived-parent log, used
// when a parent resurfaces as active.
func (d *Database) DeleteArchivedParent(parentID string) error {
	_, err := d.db.Exec(`DELETE FROM archived_parents WHERE parent_id = ?`, parentID)
	return err
}

// ListArchivedParentsWithLiveLedgers returns archived parents that still
// own at least one ledger in the live store.
func (d *Database) ListArchivedParentsWithLiveLedgers() ([]models.ArchiveEvent, error) {
	rows, err := d.db.Query(`
		SELECT DISTINCT p.parent_id, p.archived_at, p.reason
		FROM archived_parents p
		JOIN live_ledgers l ON l.parent_id = p.parent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ArchiveEvent
	for rows.Next() {
		var event models.ArchiveEvent
		var archivedAt, reason sql.NullString
		if err := rows.Scan(&event.ParentID, &archivedAt, &reason); err != nil {
			return nil, err
		}
		if archivedAt.Valid {
			if t, err := time.Parse(timeLayout, archivedAt.String); err == nil {
				event.ArchivedAt = t
			}
		}
		if reason.Valid {
			event.Reason = reason.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SaveRollup upserts the current-metrics side of a regional rollup. Daily
// averages are persisted separately so their listing counts survive
// recomputation.
func (d *Database) SaveRollup(rollup *models.RegionalRollup) error {
	metricsJSON, err := json.Marshal(rollup.CurrentActiveMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal rollup metrics: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO regional_rollups (region_id, locality, county, region, current_metrics, last_snapshot_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(region_id) DO UPDATE SET
			locality = excluded.locality,
			county = excluded.county,
			region = excluded.region,
			current_metrics = excluded.current_metrics,
			last_snapshot_date = excluded.last_snapshot_date`,
		rollup.RegionID, rollup.Location.Locality, rollup.Location.County, rollup.Location.Region,
		string(metricsJSON), rollup.LastSnapshotDate.Format(timeLayout),
	)
	return err
}

// UpsertDailyAverage merges one freshly computed daily row by (day,
// category) key. On conflict only the price average is overwritten; the
// previously persisted listing count is preserved verbatim.
func (d *Database) UpsertDailyAverage(regionID, day, category string, avgPrice *float64, listingCount int) error {
	_, err := d.db.Exec(`
		INSERT INTO regional_daily_averages (region_id, day, category, avg_price, listing_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(region_id, day, category) DO UPDATE SET avg_price = excluded.avg_price`,
		regionID, day, category, avgPrice, listingCount,
	)
	return err
}

// PruneDailyAverages drops rows older than the trailing retention window,
// keeping the most recent keepDays distinct days.
func (d *Database) PruneDailyAverages(regionID string, keepDays int) error {
	_, err := d.db.Exec(`
		DELETE FROM regional_daily_averages
		WHERE region_id = ?
		AND day NOT IN (
			SELECT DISTINCT day FROM regional_daily_averages
			WHERE region_id = ?
			ORDER BY day DESC
			LIMIT ?
		)`, regionID, regionID, keepDays)
	return err
}

// GetDailyAverages loads the persisted per-day rows for a region in
// ascending day order.
func (d *Database) GetDailyAverages(regionID string) ([]models.DailyAverage, error) {
	rows, err := d.db.Query(`
		SELECT day, category, avg_price, listing_count
		FROM regional_daily_averages
		WHERE region_id = ?
		ORDER BY day ASC, category ASC`, regionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[string]*models.DailyAverage)
	var order []string
	for rows.Next() {
		var day, category string
		var avgPrice sql.NullFloat64
		var count int
		if err := rows.Scan(&day, &category, &avgPrice, &count); err != nil {
			return nil, err
		}

		da, ok := byDay[day]
		if !ok {
			da = &models.DailyAverage{
				Day:      day,
				Averages: make(map[string]*float64),
				Counts:   make(map[string]int),
			}
			byDay[day] = da
			order = append(order, day)
		}
		if avgPrice.Valid {
			v := avgPrice.Float64
			da.Averages[category] = &v
		} else {
			da.Averages[category] = nil
		}
		da.Counts[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	averages := make([]models.DailyAverage, 0, len(order))
	for _, day := range order {
		averages = append(averages, *byDay[day])
	}
	return averages, nil
}

// GetRollup loads a full regional rollup including its daily averages, or
// nil when the region has never been aggregated.
func (d *Database) GetRollup(regionID string) (*models.RegionalRollup, error) {
	row := d.db.QueryRow(`
		SELECT region_id, locality, county, region, current_metrics, last_snapshot_date
		FROM regional_rollups
		WHERE region_id = ?`, regionID)

	rollup, err := scanRollup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rollup.HistoricalDailyAverages, err = d.GetDailyAverages(regionID)
	if err != nil {
		return nil, err
	}
	return rollup, nil
}

// ListRollups loads every rollup without daily averages, for listing views.
func (d *Database) ListRollups() ([]models.RegionalRollup, error) {
	rows, err := d.db.Query(`
		SELECT region_id, locality, county, region, current_metrics, last_snapshot_date
		FROM regional_rollups
		ORDER BY county, locality`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rollups []models.RegionalRollup
	for rows.Next() {
		rollup, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		rollups = append(rollups, *rollup)
	}
	return rollups, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedger(row rowScanner) (*models.LedgerRecord, error) {
	var rec models.LedgerRecord
	var parentID, name, category, offeredBy sql.NullString
	var locality, county, region, metrics sql.NullString
	var createdAt, lastUpdated sql.NullString

	err := row.Scan(
		&rec.EntityID, &rec.NaturalKey, &parentID, &name, &category, &offeredBy,
		&locality, &county, &region, &rec.Status, &metrics, &createdAt, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	fillLedgerFields(&rec, parentID, name, category, offeredBy, locality, county, region, metrics, createdAt, lastUpdated)
	return &rec, nil
}

func scanArchivedLedger(row rowScanner) (*models.LedgerRecord, error) {
	var rec models.LedgerRecord
	var parentID, name, category, offeredBy sql.NullString
	var locality, county, region, metrics sql.NullString
	var createdAt, lastUpdated, archivedAt, archiveReason sql.NullString

	err := row.Scan(
		&rec.EntityID, &rec.NaturalKey, &parentID, &name, &category, &offeredBy,
		&locality, &county, &region, &rec.Status, &metrics, &createdAt, &lastUpdated,
		&archivedAt, &archiveReason,
	)
	if err != nil {
		return nil, err
	}

	fillLedgerFields(&rec, parentID, name, category, offeredBy, locality, county, region, metrics, createdAt, lastUpdated)
	if archivedAt.Valid && archivedAt.String != "" {
		if t, err := time.Parse(timeLayout, archivedAt.String); err == nil {
			rec.ArchivedAt = &t
		}
	}
	if archiveReason.Valid {
		rec.ArchiveReason = archiveReason.String
	}
	return &rec, nil
}

func fillLedgerFields(rec *models.LedgerRecord, parentID, name, category, offeredBy, locality, county, region, metrics, createdAt, lastUpdated sql.NullString) {
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	if name.Valid {
		rec.Identity.Name = name.String
	}
	if category.Valid {
		rec.Identity.Category = category.String
	}
	if offeredBy.Valid {
		rec.Identity.OfferedBy = offeredBy.String
	}
	if locality.Valid {
		rec.Identity.Location.Locality = locality.String
	}
	if county.Valid {
		rec.Identity.Location.County = county.String
	}
	if region.Valid {
		rec.Identity.Location.Region = region.String
	}
	if metrics.Valid && metrics.String != "" {
		_ = json.Unmarshal([]byte(metrics.String), &rec.Metrics)
	}
	if createdAt.Valid && createdAt.String != "" {
		if t, err := time.Parse(timeLayout, createdAt.String); err == nil {
			rec.CreatedAt = t
		}
	}
	if lastUpdated.Valid && lastUpdated.String != "" {
		if t, err := time.Parse(timeLayout, lastUpdated.String); err == nil {
			rec.LastUpdated = t
		}
	}
}

func scanRollup(row rowScanner) (*models.RegionalRollup, error) {
	var rollup models.RegionalRollup
	var locality, county, region, metrics, snapshotDate sql.NullString

	err := row.Scan(&rollup.RegionID, &locality, &county, &region, &metrics, &snapshotDate)
	if err != nil {
		return nil, err
	}

	if locality.Valid {
		rollup.Location.Locality = locality.String
	}
	if county.Valid {
		rollup.Location.County = county.String
	}
	if region.Valid {
		rollup.Location.Region = region.String
	}
	if metrics.Valid && metrics.String != "" {
		_ = json.Unmarshal([]byte(metrics.String), &rollup.CurrentActiveMetrics)
	}
	if snapshotDate.Valid && snapshotDate.String != "" {
		if t, err := time.Parse(timeLayout, snapshotDate.String); err == nil {
			rollup.LastSnapshotDate = t
		}
	}
	return &rollup, nil
}

// getTimeline reads the full timeline for one entity sorted by observation
// time. Out-of-order late appends are reordered here, on read, so the
// chronological invariant holds for every aggregation.
func (d *Database) getTimeline(table, entityID string) ([]models.TimelineEntry, error) {
	rows, err := d.db.Query(fmt.Sprintf(`
		SELECT observed_at, price, change_type, source,
		       previous_price, change_amount, change_percentage, is_significant, context
		FROM %s
		WHERE entity_id = ?
		ORDER BY observed_at ASC, id ASC`, table), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.TimelineEntry
	for rows.Next() {
		var entry models.TimelineEntry
		var observedAt string
		var source, contextStr sql.NullString
		var prevPrice, changeAmount, changePct sql.NullFloat64
		var isSignificant sql.NullBool

		err := rows.Scan(
			&observedAt, &entry.Price, &entry.ChangeType, &source,
			&prevPrice, &changeAmount, &changePct, &isSignificant, &contextStr,
		)
		if err != nil {
			return nil, err
		}

		if t, err := time.Parse(timeLayout, observedAt); err == nil {
			entry.ObservedAt = t
		}
		if source.Valid {
			entry.Source = source.String
		}
		if prevPrice.Valid {
			entry.Change.PreviousPrice = prevPrice.Float64
		}
		if changeAmount.Valid {
			entry.Change.ChangeAmount = changeAmount.Float64
		}
		if changePct.Valid {
			entry.Change.ChangePercentage = changePct.Float64
		}
		if isSignificant.Valid {
			entry.Change.IsSignificant = isSignificant.Bool
		}
		if contextStr.Valid && contextStr.String != "" && contextStr.String != "null" {
			_ = json.Unmarshal([]byte(contextStr.String), &entry.Context)
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (d *Database) listLedgers(query, timelineTable string, archived bool) ([]models.LedgerRecord, error) {
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.LedgerRecord
	for rows.Next() {
		var rec *models.LedgerRecord
		if archived {
			rec, err = scanArchivedLedger(rows)
		} else {
			rec, err = scanLedger(rows)
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		records[i].Timeline, err = d.getTimeline(timelineTable, records[i].EntityID)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}
