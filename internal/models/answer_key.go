package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type KeyStatus string

const (
	KeyDraft     KeyStatus = "draft"
	KeyFinalized KeyStatus = "finalized"
	KeyArchived  KeyStatus = "archived"
)

type PenaltyPolicy string

const (
	// PenaltyNone: wrong picks cost nothing, score floored at zero.
	PenaltyNone PenaltyPolicy = "none"
	// PenaltyProportional: each wrong pick costs weight/|correct|, floored at zero.
	PenaltyProportional PenaltyPolicy = "proportional"
	// PenaltyNegative: each wrong pick costs the full weight, totals may go below zero.
	PenaltyNegative PenaltyPolicy = "negative"
)

// AnswerKey is the expected-correct-answer specification for one exam.
// Once finalized it is immutable: question edits are rejected at the service layer.
type AnswerKey struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string   `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Status      KeyStatus `json:"status" gorm:"default:draft;index" validate:"omitempty,oneof=draft finalized archived"`

	// Metadata
	CreatedBy   string         `json:"created_by" gorm:"not null;index;size:255"`
	FinalizedAt *time.Time     `json:"finalized_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []Question `json:"questions" gorm:"foreignKey:AnswerKeyID"`
	Creator   User       `json:"creator" gorm:"foreignKey:CreatedBy"`

	// Computed fields (not stored)
	QuestionCount int     `json:"question_count" gorm:"-"`
	TotalWeight   float64 `json:"total_weight" gorm:"-"`
}

func (AnswerKey) TableName() string {
	return "answer_keys"
}

// Question is one entry of an answer key. Options and correct-set are stored as
// JSONB ([]string); correct-set is validated non-empty and a subset of options
// at load time, never at point of use.
type Question struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	AnswerKeyID uint   `json:"answer_key_id" gorm:"not null;index;uniqueIndex:idx_key_label"`
	Label       string `json:"label" gorm:"not null;size:50;uniqueIndex:idx_key_label" validate:"required,max=50"`
	Order       int    `json:"order" gorm:"default:0"`

	// Option identifiers in printed order, and the correct subset
	Options    datatypes.JSON `json:"options" gorm:"type:jsonb"`     // []string
	CorrectSet datatypes.JSON `json:"correct_set" gorm:"type:jsonb"` // []string

	Weight        float64       `json:"weight" gorm:"not null;default:1" validate:"gt=0"`
	PenaltyPolicy PenaltyPolicy `json:"penalty_policy" gorm:"default:none" validate:"omitempty,oneof=none proportional negative"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	AnswerKey AnswerKey `json:"-" gorm:"foreignKey:AnswerKeyID"`
}

func (Question) TableName() string {
	return "answer_key_questions"
}

// QuestionSpec is the decoded, validated value form of a Question used by the
// scoring and reconciliation code paths.
type QuestionSpec struct {
	Label         string
	Options       []string
	CorrectSet    []string
	Weight        float64
	PenaltyPolicy PenaltyPolicy
}

// ExpectedCardinality is the number of marks a fully-correct response carries.
func (q QuestionSpec) ExpectedCardinality() int {
	return len(q.CorrectSet)
}
