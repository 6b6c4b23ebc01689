package repositories

import (
	"time"

	"github.com/mcqkit/correction-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AnswerKeyFilters struct {
	Status    *models.KeyStatus `json:"status"`
	CreatedBy *string           `json:"created_by"`
	DateFrom  *time.Time        `json:"date_from"`
	DateTo    *time.Time        `json:"date_to"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	SortBy    string            `json:"sort_by"`    // "created_at", "title"
	SortOrder string            `json:"sort_order"` // "asc", "desc"
}

type DetectionFilters struct {
	BatchID       *string `json:"batch_id"`
	StudentID     *string `json:"student_id"`
	QuestionLabel *string `json:"question_label"`
	Unresolved    *bool   `json:"unresolved"` // records with no student identifier yet
	Limit         int     `json:"limit"`
	Offset        int     `json:"offset"`
}

type DecisionFilters struct {
	StudentID     *string                `json:"student_id"`
	QuestionLabel *string                `json:"question_label"`
	Origin        *models.DecisionOrigin `json:"origin"`
	DateFrom      *time.Time             `json:"date_from"`
	DateTo        *time.Time             `json:"date_to"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

type ReviewFlagFilters struct {
	StudentID *string `json:"student_id"`
	Resolved  *bool   `json:"resolved"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
}

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string // Search query for name or email
	Limit  int    // Page size
	Offset int    // Offset for pagination
}

// ===== SHARED STATISTICS STRUCTS =====

type KeyStats struct {
	QuestionCount int     `json:"question_count"`
	TotalWeight   float64 `json:"total_weight"`
	BatchCount    int     `json:"batch_count"`
	StudentCount  int     `json:"student_count"`
}

type CorrectionStats struct {
	TotalRecords      int     `json:"total_records"`
	AutomaticDecided  int     `json:"automatic_decided"`
	HumanOverridden   int     `json:"human_overridden"`
	PendingReview     int     `json:"pending_review"`
	SkippedRecords    int     `json:"skipped_records"`
	AutoDecisionRate  float64 `json:"auto_decision_rate"`
	UnresolvedScans   int     `json:"unresolved_scans"`
	DistinctStudents  int     `json:"distinct_students"`
	DistinctQuestions int     `json:"distinct_questions"`
}
