package repositories

import (
	"context"

	"github.com/mcqkit/correction-service/internal/models"
	"gorm.io/gorm"
)

// DecisionRepository interface for the append-only decision ledger.
// Decisions are never updated or deleted; superseding a decision means
// appending a new row with a higher revision for the same pair.
type DecisionRepository interface {
	Append(ctx context.Context, tx *gorm.DB, decision *models.Decision) error

	// History and current state per (student, question) pair
	History(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) ([]*models.Decision, error)
	Current(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) (*models.Decision, error)

	// Snapshot reads for aggregation: all current decisions for a key/student,
	// from a single query so a report never observes a torn ledger state.
	CurrentByStudent(ctx context.Context, tx *gorm.DB, keyID uint, studentID string) (map[string]*models.Decision, error)
	CurrentByKey(ctx context.Context, tx *gorm.DB, keyID uint) (map[string]map[string]*models.Decision, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, keyID uint, filters DecisionFilters) ([]*models.Decision, int64, error)

	// Statistics
	GetCorrectionStats(ctx context.Context, tx *gorm.DB, keyID uint) (*CorrectionStats, error)
}

// ReviewFlagRepository interface for pending ambiguity flags
type ReviewFlagRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, flag *models.ReviewFlag) error
	GetByPair(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) (*models.ReviewFlag, error)
	GetPending(ctx context.Context, tx *gorm.DB, keyID uint, filters ReviewFlagFilters) ([]*models.ReviewFlag, int64, error)
	MarkResolved(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) error
	CountPending(ctx context.Context, tx *gorm.DB, keyID uint, studentID *string) (int64, error)
}

// UserRepository interface for user operations (minimal for the correction service)
type UserRepository interface {
	// Basic read operations (the correction service is not owner of user data)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)

	// List and search operations
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)

	// Validation and checks
	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}
