package repositories

import (
	"context"

	"github.com/mcqkit/correction-service/internal/models"
	"gorm.io/gorm"
)

// DetectionBatchRepository interface for scan batch bookkeeping
type DetectionBatchRepository interface {
	Create(ctx context.Context, tx *gorm.DB, batch *models.DetectionBatch) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.DetectionBatch, error)
	GetByIDWithRecords(ctx context.Context, tx *gorm.DB, id string) (*models.DetectionBatch, error)
	GetByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]*models.DetectionBatch, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status models.BatchStatus) error
}

// DetectionRepository interface for raw detection records.
// Records are immutable once identified: detected marks are never updated or
// deleted; ResolveStudent is the one exception, assigning identity to records
// the scan engine could not attribute.
type DetectionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, record *models.DetectionRecord) error
	CreateBatch(ctx context.Context, tx *gorm.DB, records []*models.DetectionRecord) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.DetectionRecord, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters DetectionFilters) ([]*models.DetectionRecord, int64, error)
	GetByBatch(ctx context.Context, tx *gorm.DB, batchID string) ([]*models.DetectionRecord, error)
	GetByStudent(ctx context.Context, tx *gorm.DB, keyID uint, studentID string) ([]*models.DetectionRecord, error)
	GetUnresolved(ctx context.Context, tx *gorm.DB, batchID string) ([]*models.DetectionRecord, error)

	// StudentsByKey returns the distinct identified students with at least one
	// detection record ingested for the key, in no particular order.
	StudentsByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]string, error)

	// ResolveStudent assigns a student to all still-unidentified records of a
	// scan reference within a batch. Returns the number of records resolved.
	ResolveStudent(ctx context.Context, tx *gorm.DB, batchID, scanRef, studentID string) (int64, error)

	// Validation and checks
	ExistsByScanRef(ctx context.Context, tx *gorm.DB, scanRef string) (bool, error)
	CountByStudentAndLabel(ctx context.Context, tx *gorm.DB, keyID uint, studentID, label string) (int64, error)
}
