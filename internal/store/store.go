// Package store is the reconciliation store: a SQLite-backed single source
// of truth for reconciliation records, received payments, and sync state.
// Every write is a single-row upsert followed by a synchronous status
// recompute inside one transaction, so readers never observe a record whose
// cached status is stale relative to its stored legs.
package store

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"funding-recon-service/internal/models"
	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
)

// Store wraps the reconciliation database.
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open opens (creating if necessary) the store at the given path and runs
// migrations. Pass ":memory:" for an ephemeral store in tests.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}
	// Busy timeout keeps concurrent readers from failing while a sync
	// cycle holds the write lock.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.StoreError(apperrors.CodeConnectionFailed, "open", err).
			WithContext("path", path)
	}

	if err := db.AutoMigrate(
		&models.ReconciliationRecord{},
		&models.ReceivedPayment{},
		&models.SyncState{},
		&models.PayerAlias{},
	); err != nil {
		return nil, apperrors.StoreError(apperrors.CodeQueryFailed, "migrate", err)
	}

	return &Store{db: db, log: log.WithComponent("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
