package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

type DecisionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewDecisionPostgreSQL(db *gorm.DB) repositories.DecisionRepository {
	return &DecisionPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (r *DecisionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Append inserts a new ledger row. The unique index on
// (answer_key_id, student_id, question_label, revision) rejects a duplicate
// revision, which the service layer surfaces as a concurrent override conflict.
func (r *DecisionPostgreSQL) Append(ctx context.Context, tx *gorm.DB, decision *models.Decision) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Create(decision).Error
}

func (r *DecisionPostgreSQL) History(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) ([]*models.Decision, error) {
	db := r.getDB(tx)
	var decisions []*models.Decision
	if err := db.WithContext(ctx).
		Where("answer_key_id = ? AND student_id = ? AND question_label = ?", keyID, studentID, questionLabel).
		Order("revision ASC").
		Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

func (r *DecisionPostgreSQL) Current(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) (*models.Decision, error) {
	db := r.getDB(tx)
	var decision models.Decision
	if err := db.WithContext(ctx).
		Where("answer_key_id = ? AND student_id = ? AND question_label = ?", keyID, studentID, questionLabel).
		Order("revision DESC").
		First(&decision).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &decision, nil
}

// CurrentByStudent loads every decision for the key/student in one query and
// keeps the highest revision per question label, so callers see a consistent
// snapshot of the ledger.
func (r *DecisionPostgreSQL) CurrentByStudent(ctx context.Context, tx *gorm.DB, keyID uint, studentID string) (map[string]*models.Decision, error) {
	db := r.getDB(tx)
	var decisions []*models.Decision
	if err := db.WithContext(ctx).
		Where("answer_key_id = ? AND student_id = ?", keyID, studentID).
		Order("revision ASC").
		Find(&decisions).Error; err != nil {
		return nil, err
	}

	current := make(map[string]*models.Decision, len(decisions))
	for _, d := range decisions {
		current[d.QuestionLabel] = d
	}
	return current, nil
}

// CurrentByKey returns the current decision per pair for the whole key,
// keyed by student then question label.
func (r *DecisionPostgreSQL) CurrentByKey(ctx context.Context, tx *gorm.DB, keyID uint) (map[string]map[string]*models.Decision, error) {
	db := r.getDB(tx)
	var decisions []*models.Decision
	if err := db.WithContext(ctx).
		Where("answer_key_id = ?", keyID).
		Order("revision ASC").
		Find(&decisions).Error; err != nil {
		return nil, err
	}

	current := make(map[string]map[string]*models.Decision)
	for _, d := range decisions {
		byLabel, ok := current[d.StudentID]
		if !ok {
			byLabel = make(map[string]*models.Decision)
			current[d.StudentID] = byLabel
		}
		byLabel[d.QuestionLabel] = d
	}
	return current, nil
}

func (r *DecisionPostgreSQL) List(ctx context.Context, tx *gorm.DB, keyID uint, filters repositories.DecisionFilters) ([]*models.Decision, int64, error) {
	db := r.getDB(tx)
	var decisions []*models.Decision
	var total int64

	query := db.WithContext(ctx).Model(&models.Decision{}).Where("answer_key_id = ?", keyID)
	query = r.helpers.ApplyDecisionFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = r.helpers.ApplyPagination(query.Order("decided_at DESC, id DESC"), filters.Limit, filters.Offset)
	if err := query.Find(&decisions).Error; err != nil {
		return nil, 0, err
	}

	return decisions, total, nil
}

func (r *DecisionPostgreSQL) GetCorrectionStats(ctx context.Context, tx *gorm.DB, keyID uint) (*repositories.CorrectionStats, error) {
	db := r.getDB(tx)
	stats := &repositories.CorrectionStats{}

	var totalRecords int64
	if err := db.WithContext(ctx).
		Model(&models.DetectionRecord{}).
		Joins("JOIN detection_batches ON detection_batches.id = detection_records.batch_id").
		Where("detection_batches.answer_key_id = ?", keyID).
		Count(&totalRecords).Error; err != nil {
		return nil, err
	}
	stats.TotalRecords = int(totalRecords)

	var unresolved int64
	if err := db.WithContext(ctx).
		Model(&models.DetectionRecord{}).
		Joins("JOIN detection_batches ON detection_batches.id = detection_records.batch_id").
		Where("detection_batches.answer_key_id = ? AND detection_records.student_id IS NULL", keyID).
		Count(&unresolved).Error; err != nil {
		return nil, err
	}
	stats.UnresolvedScans = int(unresolved)

	// Current-state counts come from the ledger snapshot: only the highest
	// revision per pair decides whether the pair counts as automatic or human.
	current, err := r.CurrentByKey(ctx, tx, keyID)
	if err != nil {
		return nil, err
	}

	questions := make(map[string]struct{})
	for _, byLabel := range current {
		for label, d := range byLabel {
			questions[label] = struct{}{}
			switch d.Origin {
			case models.OriginAutomatic:
				stats.AutomaticDecided++
			case models.OriginHumanOverride:
				stats.HumanOverridden++
			}
		}
	}
	stats.DistinctStudents = len(current)
	stats.DistinctQuestions = len(questions)

	var pending int64
	if err := db.WithContext(ctx).
		Model(&models.ReviewFlag{}).
		Where("answer_key_id = ? AND resolved = ?", keyID, false).
		Count(&pending).Error; err != nil {
		return nil, err
	}
	stats.PendingReview = int(pending)

	decided := stats.AutomaticDecided + stats.HumanOverridden
	stats.SkippedRecords = stats.TotalRecords - decided - stats.PendingReview - stats.UnresolvedScans
	if stats.SkippedRecords < 0 {
		stats.SkippedRecords = 0
	}
	if decided+stats.PendingReview > 0 {
		stats.AutoDecisionRate = float64(stats.AutomaticDecided) / float64(decided+stats.PendingReview)
	}

	return stats, nil
}

// ===== REVIEW FLAGS =====

type ReviewFlagPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewReviewFlagPostgreSQL(db *gorm.DB) repositories.ReviewFlagRepository {
	return &ReviewFlagPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (r *ReviewFlagPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Upsert keeps at most one flag per pair. Re-reconciling a pair that is still
// ambiguous refreshes the candidates and reopens the flag if it was resolved.
func (r *ReviewFlagPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, flag *models.ReviewFlag) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "answer_key_id"},
			{Name: "student_id"},
			{Name: "question_label"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"detection_record_id", "candidates", "reason", "resolved", "updated_at",
		}),
	}).Create(flag).Error
}

func (r *ReviewFlagPostgreSQL) GetByPair(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) (*models.ReviewFlag, error) {
	db := r.getDB(tx)
	var flag models.ReviewFlag
	if err := db.WithContext(ctx).
		Where("answer_key_id = ? AND student_id = ? AND question_label = ?", keyID, studentID, questionLabel).
		First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &flag, nil
}

func (r *ReviewFlagPostgreSQL) GetPending(ctx context.Context, tx *gorm.DB, keyID uint, filters repositories.ReviewFlagFilters) ([]*models.ReviewFlag, int64, error) {
	db := r.getDB(tx)
	var flags []*models.ReviewFlag
	var total int64

	query := db.WithContext(ctx).Model(&models.ReviewFlag{}).Where("answer_key_id = ?", keyID)
	if filters.Resolved != nil {
		query = query.Where("resolved = ?", *filters.Resolved)
	} else {
		query = query.Where("resolved = ?", false)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = r.helpers.ApplyPagination(query.Order("student_id ASC, question_label ASC"), filters.Limit, filters.Offset)
	if err := query.Preload("DetectionRecord").Find(&flags).Error; err != nil {
		return nil, 0, err
	}

	return flags, total, nil
}

func (r *ReviewFlagPostgreSQL) MarkResolved(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) error {
	db := r.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ReviewFlag{}).
		Where("answer_key_id = ? AND student_id = ? AND question_label = ? AND resolved = ?",
			keyID, studentID, questionLabel, false).
		Update("resolved", true)
	if result.Error != nil {
		return result.Error
	}
	// No pending flag for the pair is fine: overrides are allowed on pairs the
	// engine already decided automatically.
	return nil
}

func (r *ReviewFlagPostgreSQL) CountPending(ctx context.Context, tx *gorm.DB, keyID uint, studentID *string) (int64, error) {
	db := r.getDB(tx)
	query := db.WithContext(ctx).
		Model(&models.ReviewFlag{}).
		Where("answer_key_id = ? AND resolved = ?", keyID, false)
	if studentID != nil {
		query = query.Where("student_id = ?", *studentID)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}
