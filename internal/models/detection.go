package models

import (
	"time"

	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchReceived   BatchStatus = "received"
	BatchReconciled BatchStatus = "reconciled"
	BatchPartial    BatchStatus = "partial" // some records skipped or flagged
)

// DetectionBatch groups the DetectionRecords produced by one scan-engine run.
type DetectionBatch struct {
	ID          string      `json:"id" gorm:"primaryKey;size:36"` // uuid
	AnswerKeyID uint        `json:"answer_key_id" gorm:"not null;index"`
	Source      string      `json:"source" gorm:"size:255"` // engine identifier or input path
	Status      BatchStatus `json:"status" gorm:"default:received;index"`

	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Relations
	AnswerKey AnswerKey         `json:"-" gorm:"foreignKey:AnswerKeyID"`
	Records   []DetectionRecord `json:"records,omitempty" gorm:"foreignKey:BatchID"`

	// Computed fields (not stored)
	RecordCount int `json:"record_count" gorm:"-"`
}

func (DetectionBatch) TableName() string {
	return "detection_batches"
}

// OptionMark is one detected mark position with its confidence.
type OptionMark struct {
	Option     string  `json:"option"`
	Confidence float64 `json:"confidence"` // in [0,1], validated at ingest
}

// DetectionRecord is the raw per-question mark detection for one scan.
// Records are immutable post-creation: the repository interface has no update
// or delete for them, corrections append Decisions instead.
type DetectionRecord struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	BatchID string `json:"batch_id" gorm:"not null;index;size:36"`

	// Nullable until the corrector resolves the scanned identifier
	StudentID     *string `json:"student_id" gorm:"index;size:255"`
	QuestionLabel string  `json:"question_label" gorm:"not null;index;size:50"`

	// Zero marks is a valid blank answer, not missing data
	Marks datatypes.JSON `json:"marks" gorm:"type:jsonb"` // []OptionMark

	// Where this came from, e.g. "scan-042.png:2"
	ScanRef string `json:"scan_ref" gorm:"not null;size:500;index"`

	CreatedAt time.Time `json:"created_at"`

	// Relations
	Batch DetectionBatch `json:"-" gorm:"foreignKey:BatchID"`
}

func (DetectionRecord) TableName() string {
	return "detection_records"
}
