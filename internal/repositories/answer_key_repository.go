package repositories

import (
	"context"

	"github.com/mcqkit/correction-service/internal/models"
	"gorm.io/gorm"
)

// AnswerKeyRepository interface for answer key operations
type AnswerKeyRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerKey, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerKey, error)
	Update(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters AnswerKeyFilters) ([]*models.AnswerKey, int64, error)
	GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters AnswerKeyFilters) ([]*models.AnswerKey, int64, error)

	// Status management
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.KeyStatus) error

	// Statistics
	GetStats(ctx context.Context, tx *gorm.DB, id uint) (*KeyStats, error)
}

// QuestionRepository interface for answer key question operations
type QuestionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Query operations
	GetByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]*models.Question, error)
	GetByLabel(ctx context.Context, tx *gorm.DB, keyID uint, label string) (*models.Question, error)

	// Validation and checks
	ExistsByLabel(ctx context.Context, tx *gorm.DB, keyID uint, label string) (bool, error)
}
