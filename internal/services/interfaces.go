package services

import (
	"context"
	"time"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateAnswerKeyRequest = validator.AnswerKeyCreateRequest
type UpdateAnswerKeyRequest = validator.AnswerKeyUpdateRequest
type QuestionSpecRequest = validator.QuestionSpecRequest
type OverrideRequest = validator.OverrideRequest
type ReconcileRequest = validator.ReconcileRequest

type AnswerKeyResponse struct {
	*models.AnswerKey
	CanEdit     bool `json:"can_edit"`
	CanFinalize bool `json:"can_finalize"`
}

type AnswerKeyListResponse struct {
	Keys  []*AnswerKeyResponse `json:"keys"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Size  int                  `json:"size"`
}

// ===== INGEST DTOs =====

type IngestResult struct {
	BatchID      string    `json:"batch_id"`
	AnswerKeyID  uint      `json:"answer_key_id"`
	RecordCount  int       `json:"record_count"`
	Unidentified int       `json:"unidentified"` // records with no student id yet
	ReceivedAt   time.Time `json:"received_at"`
}

// ===== RECONCILIATION DTOs =====

// ReconcileOutcomeStatus classifies what happened to one record
type ReconcileOutcomeStatus string

const (
	OutcomeDecided ReconcileOutcomeStatus = "decided"
	OutcomeFlagged ReconcileOutcomeStatus = "flagged"
	OutcomeSkipped ReconcileOutcomeStatus = "skipped"
)

// RecordOutcome is the per-record result of a reconciliation run
type RecordOutcome struct {
	RecordID      uint                   `json:"record_id"`
	StudentID     string                 `json:"student_id,omitempty"`
	QuestionLabel string                 `json:"question_label"`
	Status        ReconcileOutcomeStatus `json:"status"`
	ChosenSet     []string               `json:"chosen_set,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Err           error                  `json:"-"`
}

// BatchSummary reports a full batch reconciliation run
type BatchSummary struct {
	BatchID     string          `json:"batch_id"`
	AnswerKeyID uint            `json:"answer_key_id"`
	Processed   int             `json:"processed"`
	AutoDecided int             `json:"auto_decided"`
	Flagged     int             `json:"flagged"`
	Skipped     int             `json:"skipped"`
	Outcomes    []RecordOutcome `json:"outcomes"`
	Errors      []string        `json:"errors,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ReconcileConfig carries the reconciliation thresholds.
// An option counts as marked iff its confidence is >= AcceptThreshold;
// the boundary value itself counts as marked.
type ReconcileConfig struct {
	AcceptThreshold float64 `json:"accept_threshold"`
	AmbiguityMargin float64 `json:"ambiguity_margin"`
	Workers         int     `json:"workers"`
}

// DefaultReconcileConfig returns the standard thresholds
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		AcceptThreshold: 0.5,
		AmbiguityMargin: 0.15,
		Workers:         4,
	}
}

// ===== LEDGER DTOs =====

type OverrideResult struct {
	Decision   *models.Decision `json:"decision"`
	Revision   int              `json:"revision"`
	Superseded *models.Decision `json:"superseded,omitempty"`
}

type DecisionHistoryResponse struct {
	StudentID     string             `json:"student_id"`
	QuestionLabel string             `json:"question_label"`
	AnswerKeyID   uint               `json:"answer_key_id"`
	Decisions     []*models.Decision `json:"decisions"` // oldest first
}

// PendingReviewItem is one flagged pair awaiting a human decision
type PendingReviewItem struct {
	StudentID     string              `json:"student_id"`
	QuestionLabel string              `json:"question_label"`
	Candidates    []models.OptionMark `json:"candidates"` // confidence descending
	Reason        string              `json:"reason"`
	ScanRef       string              `json:"scan_ref,omitempty"`
	FlaggedAt     time.Time           `json:"flagged_at"`
}

type PendingReviewResponse struct {
	Items []PendingReviewItem `json:"items"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Size  int                 `json:"size"`
}

// ===== REPORT DTOs =====

type ClassSummary struct {
	AnswerKeyID     uint    `json:"answer_key_id"`
	StudentCount    int     `json:"student_count"`
	CompleteCount   int     `json:"complete_count"` // no pending, no missing data
	PendingCount    int     `json:"pending_count"`
	IncompleteCount int     `json:"incomplete_count"`
	MeanScore       float64 `json:"mean_score"`
	MaxScore        float64 `json:"max_score"`
	MinScore        float64 `json:"min_score"`
}

// AggregateAllResult pairs per-student results with per-student failures
type AggregateAllResult struct {
	Results  []*models.StudentResult `json:"results"`
	Failures map[string]string       `json:"failures,omitempty"` // student id -> error
	Summary  ClassSummary            `json:"summary"`
}

// ===== SERVICE INTERFACES =====

type AnswerKeyService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateAnswerKeyRequest, creatorID string) (*AnswerKeyResponse, error)
	GetByID(ctx context.Context, id uint) (*AnswerKeyResponse, error)
	GetByIDWithQuestions(ctx context.Context, id uint) (*AnswerKeyResponse, error)
	Update(ctx context.Context, id uint, req *UpdateAnswerKeyRequest, userID string) (*AnswerKeyResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// List operations
	List(ctx context.Context, filters repositories.AnswerKeyFilters) (*AnswerKeyListResponse, error)
	GetByCreator(ctx context.Context, creatorID string, filters repositories.AnswerKeyFilters) (*AnswerKeyListResponse, error)

	// Status management
	Finalize(ctx context.Context, id uint, userID string) error
	Archive(ctx context.Context, id uint, userID string) error

	// Scoring: pure function of one question spec and one chosen set
	Score(spec models.QuestionSpec, chosen []string) float64

	// Statistics
	GetStats(ctx context.Context, id uint) (*repositories.KeyStats, error)
}

type IngestService interface {
	// IngestBatch stores one scan-engine output batch against a finalized key
	IngestBatch(ctx context.Context, input *models.DetectionBatchInput) (*IngestResult, error)

	// Query operations
	GetBatch(ctx context.Context, batchID string) (*models.DetectionBatch, error)
	GetBatchesByKey(ctx context.Context, keyID uint) ([]*models.DetectionBatch, error)

	// Unidentified scans awaiting a student id
	GetUnresolvedRecords(ctx context.Context, batchID string) ([]*models.DetectionRecord, error)

	// ResolveStudent attributes a scanned sheet to a student, claiming every
	// unresolved record under the scan reference. Returns the resolved count.
	ResolveStudent(ctx context.Context, batchID, scanRef, studentID string) (int, error)
}

type ReconcileService interface {
	// ReconcileBatch runs the engine over every record of an ingested batch
	ReconcileBatch(ctx context.Context, req *ReconcileRequest) (*BatchSummary, error)

	// ReconcileRecord applies the thresholds to one record
	ReconcileRecord(ctx context.Context, recordID uint, cfg *ReconcileConfig) (*RecordOutcome, error)
}

type LedgerService interface {
	// Override appends a human decision for one (student, question) pair
	Override(ctx context.Context, keyID uint, req *OverrideRequest, correctorID string) (*OverrideResult, error)

	// History returns every decision for a pair, oldest first
	History(ctx context.Context, keyID uint, studentID, questionLabel string) (*DecisionHistoryResponse, error)

	// Current returns the latest decision, or ErrDecisionNotFound while pending
	Current(ctx context.Context, keyID uint, studentID, questionLabel string) (*models.Decision, error)

	// PendingReviewItems lists flagged, still-undecided pairs for a key
	PendingReviewItems(ctx context.Context, keyID uint, filters repositories.ReviewFlagFilters) (*PendingReviewResponse, error)
}

type ReportService interface {
	// Aggregate computes one student's result from current decisions
	Aggregate(ctx context.Context, keyID uint, studentID string) (*models.StudentResult, error)

	// AggregateAll computes results for every student with decisions on the key,
	// continuing past per-student failures
	AggregateAll(ctx context.Context, keyID uint) (*AggregateAllResult, error)

	// Export writes all student results in the requested format
	ExportCSV(ctx context.Context, keyID uint) ([]byte, error)
	ExportXLSX(ctx context.Context, keyID uint) ([]byte, error)

	// Statistics
	GetOverview(ctx context.Context, keyID uint) (*repositories.CorrectionStats, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	AnswerKey() AnswerKeyService
	Ingest() IngestService
	Reconcile() ReconcileService
	Ledger() LedgerService
	Report() ReportService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
