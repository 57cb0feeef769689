package database

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hometrack/server/internal/models"
)

// NewGormDB opens the gorm handle used by the batch-ingest journal and run
// audit records. It shares the sqlite file with the raw store.
func NewGormDB(dbPath string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// NewTestDB opens an in-memory gorm database for tests. The database is
// named so every pooled connection sees the same data.
func NewTestDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// MigrateSchema creates the journal and audit tables.
func MigrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(&models.ObservationJournal{}, &models.RunAudit{})
}

// JournalObservations writes one journal row per processed observation
// inside the given transaction.
func JournalObservations(tx *gorm.DB, entries []*models.ObservationJournal) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.Create(entries).Error
}

// SaveRunAudit persists the summary row for one ingest run.
func SaveRunAudit(db *gorm.DB, audit *models.RunAudit) error {
	return db.Create(audit).Error
}

// LatestRunAudit returns the most recently finished run audit, or nil.
func LatestRunAudit(db *gorm.DB) (*models.RunAudit, error) {
	var audit models.RunAudit
	err := db.Order("finished_at DESC").First(&audit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &audit, nil
}
