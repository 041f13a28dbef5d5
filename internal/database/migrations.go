package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/forum"
	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillThreadLastActivity = "2026-10-01_backfill_thread_last_activity"
	migrationReconcileThreadReplyCounts = "2026-10-02_reconcile_thread_reply_counts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillThreadLastActivity, apply: backfillThreadLastActivity},
		{name: migrationReconcileThreadReplyCounts, apply: reconcileThreadReplyCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// backfillThreadLastActivity rewrites the threads record in the canonical schema so
// older records gain lastActivityAt and replyCount.
func backfillThreadLastActivity(db *gorm.DB, logger *zap.Logger) error {
	threads, found, err := loadThreads(db, logger)
	if err != nil || !found {
		return err
	}
	return saveThreads(db, threads)
}

// reconcileThreadReplyCounts sets every replyCount to the number of stored replies
// pointing at that thread.
func reconcileThreadReplyCounts(db *gorm.DB, logger *zap.Logger) error {
	threads, found, err := loadThreads(db, logger)
	if err != nil || !found {
		return err
	}
	var record kvstore.Record
	err = db.Where(kvstore.QueryRecordKey, forum.KeyReplies).Take(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	counts := make(map[string]int)
	if err == nil {
		replies, decodeErr := forum.DecodeReplies(record.Value)
		if decodeErr != nil {
			logger.Warn("skipping reply count reconciliation for malformed replies", zap.Error(decodeErr))
			return nil
		}
		for _, reply := range replies {
			counts[reply.ThreadID]++
		}
	}
	changed := false
	for index := range threads {
		if threads[index].ReplyCount != counts[threads[index].ID] {
			threads[index].ReplyCount = counts[threads[index].ID]
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return saveThreads(db, threads)
}

func loadThreads(db *gorm.DB, logger *zap.Logger) ([]forum.Thread, bool, error) {
	var record kvstore.Record
	err := db.Where(kvstore.QueryRecordKey, forum.KeyThreads).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	threads, err := forum.DecodeThreads(record.Value)
	if err != nil {
		logger.Warn("skipping migration for malformed threads record", zap.Error(err))
		return nil, false, nil
	}
	return threads, true, nil
}

func saveThreads(db *gorm.DB, threads []forum.Thread) error {
	encoded, err := forum.EncodeThreads(threads)
	if err != nil {
		return err
	}
	return db.Model(&kvstore.Record{}).
		Where(kvstore.QueryRecordKey, forum.KeyThreads).
		Updates(map[string]interface{}{
			"record_value":  encoded,
			"updated_at_ms": time.Now().UTC().UnixMilli(),
		}).Error
}
