package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/cache"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

type DetectionBatchPostgreSQL struct {
	db *gorm.DB
}

func NewDetectionBatchPostgreSQL(db *gorm.DB) repositories.DetectionBatchRepository {
	return &DetectionBatchPostgreSQL{db: db}
}

func (r *DetectionBatchPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *DetectionBatchPostgreSQL) Create(ctx context.Context, tx *gorm.DB, batch *models.DetectionBatch) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Create(batch).Error
}

func (r *DetectionBatchPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.DetectionBatch, error) {
	db := r.getDB(tx)
	var batch models.DetectionBatch
	if err := db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (r *DetectionBatchPostgreSQL) GetByIDWithRecords(ctx context.Context, tx *gorm.DB, id string) (*models.DetectionBatch, error) {
	db := r.getDB(tx)
	var batch models.DetectionBatch
	if err := db.WithContext(ctx).
		Preload("Records").
		Where("id = ?", id).
		First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	batch.RecordCount = len(batch.Records)
	return &batch, nil
}

func (r *DetectionBatchPostgreSQL) GetByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]*models.DetectionBatch, error) {
	db := r.getDB(tx)
	var batches []*models.DetectionBatch
	if err := db.WithContext(ctx).
		Where("answer_key_id = ?", keyID).
		Order("received_at ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *DetectionBatchPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status models.BatchStatus) error {
	db := r.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.DetectionBatch{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// ===== DETECTION RECORDS =====

type DetectionPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewDetectionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.DetectionRepository {
	return &DetectionPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *DetectionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *DetectionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, record *models.DetectionRecord) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Create(record).Error
}

func (r *DetectionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, records []*models.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	db := r.getDB(tx)
	return db.WithContext(ctx).CreateInBatches(records, 200).Error
}

func (r *DetectionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.DetectionRecord, error) {
	db := r.getDB(tx)
	var record models.DetectionRecord
	if err := db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *DetectionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.DetectionFilters) ([]*models.DetectionRecord, int64, error) {
	db := r.getDB(tx)
	var records []*models.DetectionRecord
	var total int64

	query := db.WithContext(ctx).Model(&models.DetectionRecord{})
	query = r.helpers.ApplyDetectionFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = r.helpers.ApplyPagination(query.Order("id ASC"), filters.Limit, filters.Offset)
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func (r *DetectionPostgreSQL) GetByBatch(ctx context.Context, tx *gorm.DB, batchID string) ([]*models.DetectionRecord, error) {
	db := r.getDB(tx)
	var records []*models.DetectionRecord
	if err := db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DetectionPostgreSQL) GetByStudent(ctx context.Context, tx *gorm.DB, keyID uint, studentID string) ([]*models.DetectionRecord, error) {
	db := r.getDB(tx)
	var records []*models.DetectionRecord
	if err := db.WithContext(ctx).
		Joins("JOIN detection_batches ON detection_batches.id = detection_records.batch_id").
		Where("detection_batches.answer_key_id = ? AND detection_records.student_id = ?", keyID, studentID).
		Order("detection_records.id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DetectionPostgreSQL) GetUnresolved(ctx context.Context, tx *gorm.DB, batchID string) ([]*models.DetectionRecord, error) {
	db := r.getDB(tx)
	var records []*models.DetectionRecord
	if err := db.WithContext(ctx).
		Where("batch_id = ? AND student_id IS NULL", batchID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DetectionPostgreSQL) StudentsByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]string, error) {
	db := r.getDB(tx)
	var students []string
	if err := db.WithContext(ctx).
		Model(&models.DetectionRecord{}).
		Joins("JOIN detection_batches ON detection_batches.id = detection_records.batch_id").
		Where("detection_batches.answer_key_id = ? AND detection_records.student_id IS NOT NULL", keyID).
		Distinct().
		Pluck("detection_records.student_id", &students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

func (r *DetectionPostgreSQL) ResolveStudent(ctx context.Context, tx *gorm.DB, batchID, scanRef, studentID string) (int64, error) {
	db := r.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.DetectionRecord{}).
		Where("batch_id = ? AND scan_ref = ? AND student_id IS NULL", batchID, scanRef).
		Update("student_id", studentID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *DetectionPostgreSQL) ExistsByScanRef(ctx context.Context, tx *gorm.DB, scanRef string) (bool, error) {
	db := r.getDB(tx)

	cacheKey := fmt.Sprintf("scan_ref:%s", scanRef)
	if exists, err := r.cacheManager.Exists.Exists(ctx, cacheKey); err == nil && exists {
		return true, nil
	}

	var count int64
	err := db.WithContext(ctx).
		Model(&models.DetectionRecord{}).
		Where("scan_ref = ?", scanRef).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	if count > 0 {
		_ = r.cacheManager.Exists.Set(ctx, cacheKey, true, cache.ExistsCacheConfig.TTL)
	}
	return count > 0, nil
}

func (r *DetectionPostgreSQL) CountByStudentAndLabel(ctx context.Context, tx *gorm.DB, keyID uint, studentID, label string) (int64, error) {
	db := r.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.DetectionRecord{}).
		Joins("JOIN detection_batches ON detection_batches.id = detection_records.batch_id").
		Where("detection_batches.answer_key_id = ? AND detection_records.student_id = ? AND detection_records.question_label = ?",
			keyID, studentID, label).
		Count(&count).Error
	return count, err
}
