package timerstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// slotRecord is one persisted key/value slot.
// Params: primary-key slot name and string value.
// Returns: gorm row model for the timer_state table.
type slotRecord struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

// TableName fixes the gorm table name.
// Params: none.
// Returns: static table name.
func (slotRecord) TableName() string {
	return "timer_state"
}

// SQLiteStore persists timer state in a device-local sqlite database.
// Params: gorm handle over glebarez pure-Go sqlite.
// Returns: durable store surviving process restarts.
type SQLiteStore struct {
	kvStore
}

// sqliteBackend is the gorm-backed kvBackend.
type sqliteBackend struct {
	db *gorm.DB
}

// NewSQLiteStore opens (and migrates) the sqlite-backed store.
// Params: database path (empty selects an in-memory database) and now
// function for lazy expiry (defaults to time.Now when nil).
// Returns: initialized store or open/migrate error.
func NewSQLiteStore(path string, now func() time.Time) (*SQLiteStore, error) {
	if path == "" {
		path = "file::memory:"
	}
	if now == nil {
		now = time.Now
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open timer state db %q: %w", path, err)
	}
	if err := db.AutoMigrate(&slotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate timer state schema: %w", err)
	}
	return &SQLiteStore{kvStore: kvStore{
		kv:  &sqliteBackend{db: db},
		now: now,
	}}, nil
}

func (b *sqliteBackend) get(ctx context.Context, key string) (string, bool, error) {
	var record slotRecord
	err := b.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read slot %q: %w", key, err)
	}
	return record.Value, true, nil
}

func (b *sqliteBackend) set(ctx context.Context, key, value string) error {
	err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&slotRecord{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("write slot %q: %w", key, err)
	}
	return nil
}

func (b *sqliteBackend) delete(ctx context.Context, key string) error {
	err := b.db.WithContext(ctx).Delete(&slotRecord{}, "key = ?", key).Error
	if err != nil {
		return fmt.Errorf("delete slot %q: %w", key, err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
