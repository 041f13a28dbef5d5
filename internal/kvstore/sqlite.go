package kvstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnRecordKey   = "record_key"
	columnRecordValue = "record_value"
	columnUpdatedAtMs = "updated_at_ms"
	// QueryRecordKey selects a record by key.
	QueryRecordKey = columnRecordKey + " = ?"
)

var errMissingDatabase = errors.New("kvstore: database handle is required")

// Record is the row backing one key in the SQLite store.
type Record struct {
	Key             string `gorm:"column:record_key;primaryKey;size:190;not null"`
	Value           string `gorm:"column:record_value;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "kv_records"
}

// SQLiteStore persists records in a GORM-managed table. Change notifications are
// delivered in-process only.
type SQLiteStore struct {
	db       *gorm.DB
	notifier *Notifier
	clock    func() time.Time
}

// NewSQLiteStore wraps an opened database. The kv_records table must already exist.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SQLiteStore{
		db:       db,
		notifier: NewNotifier(),
		clock:    time.Now,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	var record Record
	err := s.db.WithContext(ctx).Where(QueryRecordKey, key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	now := s.clock().UTC()
	record := Record{Key: key, Value: value, UpdatedAtMillis: now.UnixMilli()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnRecordKey}},
			DoUpdates: clause.AssignmentColumns([]string{columnRecordValue, columnUpdatedAtMs}),
		}).
		Create(&record).Error
	if err != nil {
		return err
	}
	s.notifier.Publish(Change{Key: key, Value: value, Timestamp: now})
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where(QueryRecordKey, key).Delete(&Record{}).Error; err != nil {
		return err
	}
	s.notifier.Publish(Change{Key: key, Deleted: true, Timestamp: s.clock().UTC()})
	return nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, keys ...string) (<-chan Change, func()) {
	return s.notifier.Subscribe(ctx, keys...)
}

// Close releases subscribers. The database handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	s.notifier.Close()
	return nil
}
