package postgres

import (
	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/repositories"
)

// SharedHelpers contains common database query building
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// ApplyAnswerKeyFilters applies common filters to answer key queries
func (h *SharedHelpers) ApplyAnswerKeyFilters(query *gorm.DB, filters repositories.AnswerKeyFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyDetectionFilters applies common filters to detection record queries
func (h *SharedHelpers) ApplyDetectionFilters(query *gorm.DB, filters repositories.DetectionFilters) *gorm.DB {
	if filters.BatchID != nil {
		query = query.Where("batch_id = ?", *filters.BatchID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.QuestionLabel != nil {
		query = query.Where("question_label = ?", *filters.QuestionLabel)
	}
	if filters.Unresolved != nil {
		if *filters.Unresolved {
			query = query.Where("student_id IS NULL")
		} else {
			query = query.Where("student_id IS NOT NULL")
		}
	}
	return query
}

// ApplyDecisionFilters applies common filters to decision queries
func (h *SharedHelpers) ApplyDecisionFilters(query *gorm.DB, filters repositories.DecisionFilters) *gorm.DB {
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.QuestionLabel != nil {
		query = query.Where("question_label = ?", *filters.QuestionLabel)
	}
	if filters.Origin != nil {
		query = query.Where("origin = ?", *filters.Origin)
	}
	if filters.DateFrom != nil {
		query = query.Where("decided_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("decided_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPagination applies limit/offset with sane defaults
func (h *SharedHelpers) ApplyPagination(query *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return query.Limit(limit).Offset(offset)
}

// ApplySort applies sorting with a whitelist of sortable columns
func (h *SharedHelpers) ApplySort(query *gorm.DB, sortBy, sortOrder string, allowed map[string]bool) *gorm.DB {
	if sortBy == "" || !allowed[sortBy] {
		sortBy = "created_at"
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}
	return query.Order(sortBy + " " + sortOrder)
}
