package models

import (
	"time"

	"gorm.io/datatypes"
)

type DecisionOrigin string

const (
	OriginAutomatic     DecisionOrigin = "automatic"
	OriginHumanOverride DecisionOrigin = "human_override"
)

// Decision is the resolved outcome for one (student, question) pair.
// The decisions table is append-only: overrides add a row with a higher
// revision, nothing is ever updated or removed. The current decision for a
// pair is the row with the highest revision.
type Decision struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	AnswerKeyID uint   `json:"answer_key_id" gorm:"not null;index;uniqueIndex:idx_pair_revision"`
	StudentID   string `json:"student_id" gorm:"not null;size:255;uniqueIndex:idx_pair_revision"`

	QuestionLabel string `json:"question_label" gorm:"not null;size:50;uniqueIndex:idx_pair_revision"`
	Revision      int    `json:"revision" gorm:"not null;uniqueIndex:idx_pair_revision"`

	ChosenSet datatypes.JSON `json:"chosen_set" gorm:"type:jsonb"` // []string
	Origin    DecisionOrigin `json:"origin" gorm:"not null;index"`

	// The detection this decision resolves; nil means "no detection" (missing scan).
	DetectionRecordID *uint `json:"detection_record_id" gorm:"index"`

	Note      *string   `json:"note" gorm:"type:text"`
	DecidedBy *string   `json:"decided_by" gorm:"size:255"` // nil for automatic decisions
	DecidedAt time.Time `json:"decided_at" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`

	// Relations
	DetectionRecord *DetectionRecord `json:"detection_record,omitempty" gorm:"foreignKey:DetectionRecordID"`
}

func (Decision) TableName() string {
	return "decisions"
}

// ReviewFlag marks a (student, question) pair the engine refused to decide.
// Flags are cleared when a human override lands, never by the engine itself.
type ReviewFlag struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	AnswerKeyID   uint   `json:"answer_key_id" gorm:"not null;index;uniqueIndex:idx_flag_pair"`
	StudentID     string `json:"student_id" gorm:"not null;size:255;uniqueIndex:idx_flag_pair"`
	QuestionLabel string `json:"question_label" gorm:"not null;size:50;uniqueIndex:idx_flag_pair"`

	DetectionRecordID uint           `json:"detection_record_id" gorm:"not null;index"`
	Candidates        datatypes.JSON `json:"candidates" gorm:"type:jsonb"` // []OptionMark, sorted by confidence desc
	Reason            string         `json:"reason" gorm:"size:100"`       // e.g. "tie_above_threshold", "margin_too_small"

	Resolved  bool      `json:"resolved" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	DetectionRecord DetectionRecord `json:"-" gorm:"foreignKey:DetectionRecordID"`
}

func (ReviewFlag) TableName() string {
	return "review_flags"
}
