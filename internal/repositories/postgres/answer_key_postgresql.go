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

type AnswerKeyPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAnswerKeyPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerKeyRepository {
	return &AnswerKeyPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *AnswerKeyPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *AnswerKeyPostgreSQL) Create(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Create(key).Error
}

func (r *AnswerKeyPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerKey, error) {
	db := r.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var key models.AnswerKey

	err := r.cacheManager.Key.CacheOrExecute(ctx, cacheKey, &key, cache.KeyCacheConfig.TTL, func() (interface{}, error) {
		var dbKey models.AnswerKey
		if err := db.WithContext(ctx).First(&dbKey, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, repositories.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get answer key: %w", err)
		}
		return &dbKey, nil
	})

	return &key, err
}

func (r *AnswerKeyPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerKey, error) {
	db := r.getDB(tx)
	var key models.AnswerKey
	if err := db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("answer_key_questions.\"order\" ASC")
		}).
		First(&key, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *AnswerKeyPostgreSQL) Update(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Save(key).Error; err != nil {
		return err
	}
	cache.InvalidateKeyCache(ctx, r.cacheManager, key.ID)
	return nil
}

func (r *AnswerKeyPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Delete(&models.AnswerKey{}, id).Error; err != nil {
		return err
	}
	cache.InvalidateKeyCache(ctx, r.cacheManager, id)
	return nil
}

func (r *AnswerKeyPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AnswerKeyFilters) ([]*models.AnswerKey, int64, error) {
	db := r.getDB(tx)
	var keys []*models.AnswerKey
	var total int64

	query := db.WithContext(ctx).Model(&models.AnswerKey{})
	query = r.helpers.ApplyAnswerKeyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = r.helpers.ApplySort(query, filters.SortBy, filters.SortOrder, map[string]bool{
		"created_at": true, "title": true, "status": true,
	})
	query = r.helpers.ApplyPagination(query, filters.Limit, filters.Offset)

	if err := query.Find(&keys).Error; err != nil {
		return nil, 0, err
	}

	return keys, total, nil
}

func (r *AnswerKeyPostgreSQL) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.AnswerKeyFilters) ([]*models.AnswerKey, int64, error) {
	filters.CreatedBy = &creatorID
	return r.List(ctx, tx, filters)
}

func (r *AnswerKeyPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.KeyStatus) error {
	db := r.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.AnswerKey{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	cache.InvalidateKeyCache(ctx, r.cacheManager, id)
	return nil
}

func (r *AnswerKeyPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, id uint) (*repositories.KeyStats, error) {
	db := r.getDB(tx)
	var stats repositories.KeyStats

	cacheKey := fmt.Sprintf("key:%d:stats", id)
	err := r.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		var s repositories.KeyStats

		row := db.WithContext(ctx).
			Model(&models.Question{}).
			Select("COUNT(*) AS question_count, COALESCE(SUM(weight), 0) AS total_weight").
			Where("answer_key_id = ?", id).
			Row()
		if err := row.Scan(&s.QuestionCount, &s.TotalWeight); err != nil {
			return nil, fmt.Errorf("failed to get question stats: %w", err)
		}

		var batches int64
		if err := db.WithContext(ctx).
			Model(&models.DetectionBatch{}).
			Where("answer_key_id = ?", id).
			Count(&batches).Error; err != nil {
			return nil, err
		}
		s.BatchCount = int(batches)

		var students int64
		if err := db.WithContext(ctx).
			Model(&models.DetectionRecord{}).
			Distinct("detection_records.student_id").
			Joins("JOIN detection_batches ON detection_batches.id = detection_records.batch_id").
			Where("detection_batches.answer_key_id = ? AND detection_records.student_id IS NOT NULL", id).
			Count(&students).Error; err != nil {
			return nil, err
		}
		s.StudentCount = int(students)

		return &s, nil
	})

	return &stats, err
}

// ===== QUESTIONS =====

type QuestionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Create(question).Error; err != nil {
		return err
	}
	cache.InvalidateKeyCache(ctx, r.cacheManager, question.AnswerKeyID)
	return nil
}

func (r *QuestionPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	db := r.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(questions, 100).Error; err != nil {
		return err
	}
	cache.InvalidateKeyCache(ctx, r.cacheManager, questions[0].AnswerKeyID)
	return nil
}

func (r *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := r.getDB(tx)
	var question models.Question
	if err := db.WithContext(ctx).First(&question, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

func (r *QuestionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Save(question).Error; err != nil {
		return err
	}
	cache.InvalidateKeyCache(ctx, r.cacheManager, question.AnswerKeyID)
	return nil
}

func (r *QuestionPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Delete(&models.Question{}, id).Error
}

func (r *QuestionPostgreSQL) GetByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]*models.Question, error) {
	db := r.getDB(tx)
	var questions []*models.Question
	if err := db.WithContext(ctx).
		Where("answer_key_id = ?", keyID).
		Order("\"order\" ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *QuestionPostgreSQL) GetByLabel(ctx context.Context, tx *gorm.DB, keyID uint, label string) (*models.Question, error) {
	db := r.getDB(tx)
	var question models.Question
	if err := db.WithContext(ctx).
		Where("answer_key_id = ? AND label = ?", keyID, label).
		First(&question).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

func (r *QuestionPostgreSQL) ExistsByLabel(ctx context.Context, tx *gorm.DB, keyID uint, label string) (bool, error) {
	db := r.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("answer_key_id = ? AND label = ?", keyID, label).
		Count(&count).Error
	return count > 0, err
}
