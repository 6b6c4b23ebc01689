package models

import "time"

// ===== INGEST DTOs =====
// Wire form of the scan-analysis engine output. The engine owns the file
// format upstream; this is the structured shape the service requires.

type DetectionRecordInput struct {
	StudentID     *string      `json:"student_id"`
	QuestionLabel string       `json:"question_label" validate:"required,max=50"`
	Marks         []OptionMark `json:"marks" validate:"dive"`
	ScanRef       string       `json:"scan_ref" validate:"required,max=500"`
}

type DetectionBatchInput struct {
	AnswerKeyID uint                   `json:"answer_key_id" validate:"required"`
	Source      string                 `json:"source" validate:"omitempty,max=255"`
	Records     []DetectionRecordInput `json:"records" validate:"required,min=1,dive"`
}

// ===== RESULT DTOs =====

type QuestionOutcome struct {
	QuestionLabel string    `json:"question_label"`
	ChosenSet     []string  `json:"chosen_set,omitempty"`
	Origin        *string   `json:"origin,omitempty"` // nil while pending
	Score         float64   `json:"score"`
	MaxScore      float64   `json:"max_score"`
	Pending       bool      `json:"pending"`
	DecidedAt     time.Time `json:"decided_at,omitzero"`
}

// StudentResult is recomputed on demand from current decisions and the answer
// key; it is never persisted as a source of truth.
type StudentResult struct {
	StudentID              string            `json:"student_id"`
	AnswerKeyID            uint              `json:"answer_key_id"`
	Outcomes               []QuestionOutcome `json:"outcomes"`
	TotalScore             float64           `json:"total_score"`
	MaxScore               float64           `json:"max_score"`
	HasUnresolvedAmbiguity bool              `json:"has_unresolved_ambiguity"`
	GeneratedAt            time.Time         `json:"generated_at"`
}
