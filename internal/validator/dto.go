package validator

import "github.com/mcqkit/correction-service/internal/models"

// QuestionSpecRequest defines one question of an answer key
type QuestionSpecRequest struct {
	Label         string                `json:"label" validate:"required,question_label"`
	Options       []string              `json:"options" validate:"required,min=2,max=26,dive,required,max=10"`
	CorrectSet    []string              `json:"correct_set" validate:"required,min=1,dive,required"`
	Weight        float64               `json:"weight" validate:"omitempty,question_weight"`
	PenaltyPolicy *models.PenaltyPolicy `json:"penalty_policy" validate:"omitempty,penalty_policy"`
}

// AnswerKeyCreateRequest creates a draft answer key with its question specs
type AnswerKeyCreateRequest struct {
	Title         string                `json:"title" validate:"required,min=1,max=200"`
	Description   *string               `json:"description" validate:"omitempty,max=1000"`
	PenaltyPolicy *models.PenaltyPolicy `json:"penalty_policy" validate:"omitempty,penalty_policy"`
	Questions     []QuestionSpecRequest `json:"questions" validate:"required,min=1,dive"`
}

// AnswerKeyUpdateRequest mutates a draft key; finalized keys reject it
type AnswerKeyUpdateRequest struct {
	Title         *string               `json:"title" validate:"omitempty,min=1,max=200"`
	Description   *string               `json:"description" validate:"omitempty,max=1000"`
	PenaltyPolicy *models.PenaltyPolicy `json:"penalty_policy" validate:"omitempty,penalty_policy"`
	Questions     []QuestionSpecRequest `json:"questions" validate:"omitempty,min=1,dive"`
}

// ReconcileRequest runs reconciliation over one ingested batch.
// Threshold overrides are optional; the configured defaults apply otherwise.
type ReconcileRequest struct {
	BatchID         string   `json:"batch_id" validate:"required,uuid4"`
	AcceptThreshold *float64 `json:"accept_threshold" validate:"omitempty,threshold_range"`
	AmbiguityMargin *float64 `json:"ambiguity_margin" validate:"omitempty,threshold_range"`
}

// OverrideRequest records a human decision for one (student, question) pair
type OverrideRequest struct {
	StudentID     string   `json:"student_id" validate:"required,max=255"`
	QuestionLabel string   `json:"question_label" validate:"required,question_label"`
	ChosenSet     []string `json:"chosen_set" validate:"dive,required,max=10"`
	Note          *string  `json:"note" validate:"omitempty,max=1000"`

	// When set, the override only applies if the pair is still at this
	// revision; a stale value means someone else decided in between.
	ExpectedRevision *int `json:"expected_revision" validate:"omitempty,min=0"`
}

// ExportRequest selects the format of a results export
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv xlsx"`
}
